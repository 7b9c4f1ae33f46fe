package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"

	"github.com/oshokin/rustc-artifact-fetcher/internal/config"
	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/fetcher"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/installer"
	"github.com/oshokin/rustc-artifact-fetcher/internal/service/resolver"
)

var (
	errNameNeedsSingleCommit = errors.New("the name argument can only be provided with a single commit")
	errUnknownHost           = errors.New("unable to detect the host triple, pass --host")
	errNotToolchainsDir      = errors.New("toolchains path is not a directory, please reinstall rustup")
	errSomeToolchainsFailed  = errors.New("failed to install some toolchains")
)

// Options are the inputs accepted by the CLI entry point. Empty string and
// zero values mean "use the settings file or built-in default".
type Options struct {
	// Commits are the requested build hashes; empty installs the latest HEAD.
	Commits []string
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Name overrides the toolchain directory name.
	Name string
	// Server overrides the artifact store base URL.
	Server string
	// Host overrides the host platform triple.
	Host string
	// Targets are extra target triples to install the standard library for.
	Targets []string
	// Components are extra components to install besides the defaults.
	Components []string
	// Channel skips channel detection when set.
	Channel string
	// Proxy overrides the HTTP proxy for all requests.
	Proxy string
	// GithubToken authenticates GitHub API requests.
	GithubToken string
	// Alt selects the alternate build namespace.
	Alt bool
	// NoDefaults disables the implicit host compiler and standard library.
	NoDefaults bool
	// DryRun only logs the URLs without downloading or installing.
	DryRun bool
	// Force replaces an existing toolchain of the same name.
	Force bool
	// KeepGoing continues installing toolchains even if some of them fail.
	KeepGoing bool
	// Jobs overrides the worker pool size.
	Jobs int
}

// Run executes the installer pipeline end to end and is the public entry
// point for the CLI. It returns a non-nil error when any commit failed.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "rustc-artifact-fetcher")

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	if info, err := os.Stat(cfg.ToolchainsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("`%s`: %w", cfg.ToolchainsDir, errNotToolchainsDir)
	}

	client, err := fetcher.NewHTTPClient(cfg)
	if err != nil {
		return err
	}

	channelResolver := resolver.New(
		client,
		cfg.Server+"/"+req.Variant.Prefix(),
		resolver.WithToken(cfg.GithubToken),
		resolver.WithMetadataTimeout(cfg.MetadataTimeout),
	)

	fetch := fetcher.Retry(
		fetcher.New(client, req.DryRun).Fetch,
		cfg.RetryAttempts,
		time.Sleep,
	)

	results := New(cfg, channelResolver, fetch, installer.Install).Run(ctx, req)

	return report(ctx, results, req.KeepGoing)
}

// loadConfig reads the settings file (when present) and layers explicit
// option values on top.
func loadConfig(opts *Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.Default()
	}

	if err != nil {
		return nil, err
	}

	if opts.Server != "" {
		cfg.Server = opts.Server
	}

	if opts.Proxy != "" {
		cfg.Proxy = opts.Proxy
	}

	if opts.GithubToken != "" {
		cfg.GithubToken = opts.GithubToken
	}

	if opts.Jobs > 0 {
		cfg.Jobs = opts.Jobs
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildRequest validates the option values and assembles the run request.
func buildRequest(opts *Options) (Request, error) {
	var req Request

	if len(opts.Commits) > 1 && opts.Name != "" {
		return req, errNameNeedsSingleCommit
	}

	commits := make([]toolchain.Commit, 0, len(opts.Commits))

	for _, raw := range opts.Commits {
		commit, err := toolchain.ParseCommit(raw)
		if err != nil {
			return req, err
		}

		commits = append(commits, commit)
	}

	var channel toolchain.Channel

	if opts.Channel != "" {
		parsed, err := toolchain.ParseChannel(opts.Channel)
		if err != nil {
			return req, err
		}

		channel = parsed
	}

	host := opts.Host
	if host == "" {
		host = defaultHostTriple()
	}

	if host == "" {
		return req, fmt.Errorf("%s/%s: %w", runtime.GOOS, runtime.GOARCH, errUnknownHost)
	}

	return Request{
		Commits:     commits,
		Name:        opts.Name,
		Variant:     toolchain.VariantFromAlt(opts.Alt),
		Channel:     channel,
		Host:        host,
		Targets:     opts.Targets,
		Components:  opts.Components,
		UseDefaults: !opts.NoDefaults,
		DryRun:      opts.DryRun,
		Force:       opts.Force,
		KeepGoing:   opts.KeepGoing,
	}, nil
}

// report logs every per-commit outcome and folds the failures into the
// process-level error.
func report(ctx context.Context, results []toolchain.InstallResult, keepGoing bool) error {
	var errs error

	for _, result := range results {
		if result.Failed() {
			logger.ErrorKV(ctx, "Toolchain install failed",
				"commit", result.Commit.String(),
				"stage", string(result.Stage),
				"error", result.Err)

			errs = multierr.Append(errs, fmt.Errorf("toolchain `%s` (%s stage): %w",
				result.Commit, result.Stage, result.Err))

			continue
		}

		logger.Info(ctx, result.String())
	}

	if errs != nil && keepGoing {
		// Every commit was attempted; summarize on top of the details.
		return multierr.Append(errSomeToolchainsFailed, errs)
	}

	return errs
}

// defaultHostTriple maps the running platform to a rustc target triple.
func defaultHostTriple() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu"
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu"
	case "linux/386":
		return "i686-unknown-linux-gnu"
	case "darwin/amd64":
		return "x86_64-apple-darwin"
	case "darwin/arm64":
		return "aarch64-apple-darwin"
	case "windows/amd64":
		return "x86_64-pc-windows-msvc"
	case "windows/arm64":
		return "aarch64-pc-windows-msvc"
	default:
		return ""
	}
}
