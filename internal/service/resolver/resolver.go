// Package resolver turns a commit reference into a concrete commit hash and
// its release channel. The latest-commit lookup goes through the GitHub API;
// channel detection probes the artifact store itself.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
	"github.com/oshokin/rustc-artifact-fetcher/internal/version"
)

const (
	// defaultAPIBase is the GitHub REST API root.
	defaultAPIBase = "https://api.github.com"
	// latestCommitPath returns the HEAD commit of the default branch of rust-lang/rust.
	latestCommitPath = "/repos/rust-lang/rust/commits/HEAD"
	// commitMediaType makes the commits endpoint return the bare hash.
	commitMediaType = "application/vnd.github.VERSION.sha"
)

var (
	// ErrRateLimited is returned when the GitHub API quota is exhausted.
	ErrRateLimited = errors.New("GitHub API rate limit exceeded")
	// ErrChannelNotFound is returned when a commit has artifacts in no known channel.
	ErrChannelNotFound = errors.New("toolchain doesn't exist in any channel")
	// errBadHTTPStatus is returned for unexpected status codes from either service.
	errBadHTTPStatus = errors.New("unexpected http status")
)

// Resolver answers "which commit, which channel" questions for one variant
// of the artifact store.
type Resolver struct {
	// client is the shared HTTP client (proxy-aware, no overall timeout).
	client *http.Client
	// prefix is the store base including the variant segment,
	// e.g. https://ci-artifacts.rust-lang.org/rustc-builds.
	prefix string
	// apiBase is the GitHub API root, overridable in tests.
	apiBase string
	// token optionally authenticates GitHub requests for higher rate limits.
	token string
	// metadataTimeout bounds each metadata request.
	metadataTimeout time.Duration
}

// Option configures optional Resolver behavior.
type Option func(*Resolver)

// WithAPIBase overrides the GitHub API root, mainly for tests.
func WithAPIBase(base string) Option {
	return func(r *Resolver) {
		r.apiBase = strings.TrimSuffix(base, "/")
	}
}

// WithToken sets the GitHub API token.
func WithToken(token string) Option {
	return func(r *Resolver) {
		r.token = token
	}
}

// WithMetadataTimeout bounds each metadata request.
func WithMetadataTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		r.metadataTimeout = timeout
	}
}

// New creates a resolver for the given store prefix
// (server base URL joined with the variant path segment).
func New(client *http.Client, prefix string, opts ...Option) *Resolver {
	r := &Resolver{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		apiBase: defaultAPIBase,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the concrete commit and its channel. An empty commit is
// first resolved to the latest HEAD commit. When an override channel is
// provided it is used verbatim and no channel probing happens.
func (r *Resolver) Resolve(
	ctx context.Context,
	commit toolchain.Commit,
	override toolchain.Channel,
) (toolchain.Commit, toolchain.Channel, error) {
	if commit.IsLatest() {
		latest, err := r.LatestCommit(ctx)
		if err != nil {
			return "", "", fmt.Errorf("fetch HEAD commit: %w", err)
		}

		commit = latest
	}

	if override != "" {
		return commit, override, nil
	}

	channel, err := r.detectChannel(ctx, commit)
	if err != nil {
		return commit, "", err
	}

	return commit, channel, nil
}

// LatestCommit fetches the HEAD commit hash of the upstream default branch.
func (r *Resolver) LatestCommit(ctx context.Context) (toolchain.Commit, error) {
	logger.Info(ctx, "fetching HEAD commit hash")

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	url := r.apiBase + latestCommitPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}

	req.Header.Set("Accept", commitMediaType)
	req.Header.Set("User-Agent", "rustc-artifact-fetcher/"+version.Short())

	if r.token != "" {
		req.Header.Set("Authorization", "token "+r.token)
	}

	response, err := r.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		remaining, _ := strconv.Atoi(response.Header.Get("X-RateLimit-Remaining"))
		if remaining == 0 {
			return "", ErrRateLimited
		}

		return "", fmt.Errorf("%s, GET %s (rate limit remaining: %d): %w",
			response.Status, url, remaining, errBadHTTPStatus)
	default:
		return "", fmt.Errorf("%s, GET %s: %w", response.Status, url, errBadHTTPStatus)
	}

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", err
	}

	commit, err := toolchain.ParseCommit(strings.TrimSpace(string(body)))
	if err != nil {
		return "", fmt.Errorf("parse HEAD commit: %w", err)
	}

	logger.InfoKV(ctx, "Resolved HEAD commit", "commit", commit)

	return commit, nil
}

// detectChannel asks the store which channel the commit was built for.
// Recent builds publish a package-version file next to the archives; older
// builds are detected by probing the target-independent rust-src archive
// name for each supported channel.
func (r *Resolver) detectChannel(ctx context.Context, commit toolchain.Commit) (toolchain.Channel, error) {
	logger.Infof(ctx, "detecting the channel of the `%s` toolchain", commit)

	body, status, err := r.get(ctx, http.MethodGet, fmt.Sprintf("%s/%s/package-version", r.prefix, commit))
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusOK:
		channel, err := toolchain.ParseChannel(body)
		if err != nil {
			return "", fmt.Errorf("parse package-version: %w", err)
		}

		return channel, nil
	case http.StatusNotFound, http.StatusForbidden:
		// Fall through to the legacy per-channel probe.
	default:
		return "", fmt.Errorf("%d, GET %s/%s/package-version: %w", status, r.prefix, commit, errBadHTTPStatus)
	}

	for _, channel := range toolchain.ProbeChannels() {
		url := fmt.Sprintf("%s/%s/rust-src-%s.tar.xz", r.prefix, commit, channel)

		_, status, err := r.get(ctx, http.MethodHead, url)
		if err != nil {
			return "", err
		}

		switch status {
		case http.StatusOK:
			return channel, nil
		case http.StatusNotFound, http.StatusForbidden:
		default:
			return "", fmt.Errorf("%d, HEAD %s: %w", status, url, errBadHTTPStatus)
		}
	}

	return "", fmt.Errorf("toolchain `%s`: %w", commit, ErrChannelNotFound)
}

// get performs a small metadata request and returns the trimmed body and status.
func (r *Resolver) get(ctx context.Context, method, url string) (string, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return "", 0, err
	}

	req.Header.Set("User-Agent", "rustc-artifact-fetcher/"+version.Short())

	response, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", 0, err
	}

	return strings.TrimSpace(string(body)), response.StatusCode, nil
}

// withTimeout applies the metadata deadline when one is configured.
func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.metadataTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, r.metadataTimeout)
}
