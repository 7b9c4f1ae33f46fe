// Package orchestrator drives the install pipeline: resolve a commit to a
// channel, locate its component archives, then fetch and unpack them into
// the toolchain directory. Commits are processed independently; components
// within one commit run on a bounded worker pool.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/rustc-artifact-fetcher/internal/config"
	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/fetcher"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/installer"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/locator"
)

// ChannelResolver resolves a commit reference to a concrete commit and channel.
type ChannelResolver interface {
	Resolve(
		ctx context.Context,
		commit toolchain.Commit,
		override toolchain.Channel,
	) (toolchain.Commit, toolchain.Channel, error)
}

// InstallFunc unpacks one fetched archive into the destination directory.
type InstallFunc func(
	ctx context.Context,
	stream io.Reader,
	descriptor toolchain.ArchiveDescriptor,
	destDir string,
	force bool,
) error

// Request carries the per-run selection shared by all commits.
type Request struct {
	// Commits are the builds to install, in order. Empty means "latest HEAD".
	Commits []toolchain.Commit
	// Name overrides the destination directory name (single commit only).
	Name string
	// Variant selects the store namespace and destination suffix.
	Variant toolchain.Variant
	// Channel is an optional override that skips channel detection.
	Channel toolchain.Channel
	// Host is the host platform triple.
	Host string
	// Targets are extra target triples for the standard library.
	Targets []string
	// Components are extra component names beyond the defaults.
	Components []string
	// UseDefaults includes the host compiler and standard library.
	UseDefaults bool
	// DryRun logs would-be downloads without touching network or disk.
	DryRun bool
	// Force reinstalls over an existing toolchain and overwrites files.
	Force bool
	// KeepGoing continues with remaining commits after a failure.
	KeepGoing bool
}

// Orchestrator wires the pipeline stages together. All dependencies are
// injected so the pipeline runs against fakes in tests.
type Orchestrator struct {
	// cfg is the shared read-only run configuration.
	cfg *config.Config
	// resolver answers commit and channel questions.
	resolver ChannelResolver
	// fetch downloads one archive, already wrapped with retry.
	fetch fetcher.Func
	// install unpacks one archive.
	install InstallFunc
}

// New creates an orchestrator from its collaborators.
func New(cfg *config.Config, resolver ChannelResolver, fetch fetcher.Func, install InstallFunc) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		fetch:    fetch,
		install:  install,
	}
}

// Run processes the requested commits in order and returns one result per
// attempted commit. Without keep-going, processing stops at the first
// failure; remaining commits are never attempted.
func (o *Orchestrator) Run(ctx context.Context, req Request) []toolchain.InstallResult {
	commits := req.Commits
	if len(commits) == 0 {
		// No commits requested: install the latest HEAD build.
		commits = []toolchain.Commit{""}
	}

	results := make([]toolchain.InstallResult, 0, len(commits))

	for _, commit := range commits {
		result := o.installOne(ctx, req, commit)
		results = append(results, result)

		if result.Failed() && !req.KeepGoing {
			break
		}
	}

	return results
}

// installOne runs the full pipeline for a single commit.
func (o *Orchestrator) installOne(
	ctx context.Context,
	req Request,
	commit toolchain.Commit,
) toolchain.InstallResult {
	commit, channel, err := o.resolver.Resolve(ctx, commit, req.Channel)
	if err != nil {
		return toolchain.InstallResult{Commit: commit, Stage: toolchain.StageResolve, Err: err}
	}

	ctx = logger.WithKV(ctx, "commit", commit.String())

	dest := req.Variant.DestName(commit, req.Name)
	destDir := filepath.Join(o.cfg.ToolchainsDir, dest)

	if info, statErr := os.Stat(destDir); statErr == nil && info.IsDir() {
		if !req.Force {
			// A clean prior install of the identical toolchain: idempotent skip.
			return toolchain.InstallResult{Commit: commit, Dest: dest, Skipped: true}
		}

		if !req.DryRun {
			if err := os.RemoveAll(destDir); err != nil {
				return toolchain.InstallResult{Commit: commit, Dest: dest, Stage: toolchain.StageInstall, Err: err}
			}
		}
	}

	descriptors, err := locator.Locate(o.cfg.Server, locator.Request{
		Commit:      commit,
		Channel:     channel,
		Variant:     req.Variant,
		Host:        req.Host,
		Targets:     req.Targets,
		Components:  req.Components,
		UseDefaults: req.UseDefaults,
	})
	if err != nil {
		return toolchain.InstallResult{Commit: commit, Dest: dest, Stage: toolchain.StageLocate, Err: err}
	}

	if stage, err := o.installComponents(ctx, descriptors, destDir, req); err != nil {
		return toolchain.InstallResult{Commit: commit, Dest: dest, Stage: stage, Err: err}
	}

	if req.DryRun {
		logger.Infof(ctx, "toolchain `%s` will be installed to `%s` on real run", dest, destDir)
	}

	return toolchain.InstallResult{Commit: commit, Dest: dest}
}

// componentResult is one worker's outcome for one archive.
type componentResult struct {
	stage toolchain.Stage
	err   error
}

// installComponents fetches and unpacks the commit's archives on a bounded
// worker pool. The first real failure cancels the commit's remaining queued
// work; in-flight siblings finish on their own.
func (o *Orchestrator) installComponents(
	ctx context.Context,
	descriptors []toolchain.ArchiveDescriptor,
	destDir string,
	req Request,
) (toolchain.Stage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := o.cfg.Jobs
	if workers < 1 {
		workers = 1
	}

	if workers > len(descriptors) {
		workers = len(descriptors)
	}

	workCh := make(chan toolchain.ArchiveDescriptor, len(descriptors))
	doneCh := make(chan componentResult, len(descriptors))

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for descriptor := range workCh {
				if ctx.Err() != nil {
					doneCh <- componentResult{stage: toolchain.StageFetch, err: ctx.Err()}
					continue
				}

				stage, err := o.installComponent(ctx, descriptor, destDir, req.Force)
				doneCh <- componentResult{stage: stage, err: err}
			}
		}()
	}

	for _, descriptor := range descriptors {
		workCh <- descriptor
	}

	close(workCh)

	var (
		firstStage toolchain.Stage
		firstErr   error
	)

	for range descriptors {
		result := <-doneCh
		if result.err == nil {
			continue
		}

		// The first failure wins and cancels the rest. Everything after it is
		// either a sibling's cancellation or a secondary failure; before it, a
		// cancellation can only mean the caller's context was canceled, which
		// fails the commit like any other cause.
		if firstErr == nil {
			firstStage, firstErr = result.stage, result.err
			cancel()
		}
	}

	wg.Wait()

	return firstStage, firstErr
}

// installComponent runs fetch and install for one archive. A nil stream
// means dry-run: nothing to install and nothing failed.
func (o *Orchestrator) installComponent(
	ctx context.Context,
	descriptor toolchain.ArchiveDescriptor,
	destDir string,
	force bool,
) (toolchain.Stage, error) {
	stream, err := o.fetch(ctx, descriptor)
	if err != nil {
		return toolchain.StageFetch, err
	}

	if stream == nil {
		return "", nil
	}

	defer func() {
		_ = stream.Close()
	}()

	if err := o.install(ctx, stream, descriptor, destDir, force); err != nil {
		// A stream that dies mid-unpack is a download problem, not an
		// unpacking one.
		var streamErr *installer.StreamError
		if errors.As(err, &streamErr) {
			return toolchain.StageFetch, err
		}

		return toolchain.StageInstall, err
	}

	return "", nil
}
