// Package fetcher streams component archives from the artifact store.
// Archives are never buffered whole; the installer consumes the response
// body incrementally. Retry of transient failures is layered on top via
// the Retry decorator so that call sites stay retry-free.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/oshokin/rustc-artifact-fetcher/internal/config"
	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
	"github.com/oshokin/rustc-artifact-fetcher/internal/version"
)

// Func fetches one archive and returns its byte stream. A nil stream with a
// nil error means dry-run mode: there is nothing to install and nothing failed.
type Func func(ctx context.Context, descriptor toolchain.ArchiveDescriptor) (io.ReadCloser, error)

// StatusError reports a non-2xx response for an archive download.
type StatusError struct {
	// URL is the request that failed.
	URL string
	// Code is the HTTP status code.
	Code int
}

// Error renders the status and URL.
func (e *StatusError) Error() string {
	return fmt.Sprintf("received status %d for GET %s", e.Code, e.URL)
}

// MissingComponentError reports a 404 for a component archive, which almost
// always means the component/channel/target combination was never built.
type MissingComponentError struct {
	// Descriptor is the download that came back missing.
	Descriptor toolchain.ArchiveDescriptor
}

// Error names the component, toolchain, channel and target.
func (e *MissingComponentError) Error() string {
	spec := e.Descriptor.Spec

	return fmt.Sprintf("missing component `%s` on toolchain `%s` on channel `%s` for target `%s`",
		spec.Name, e.Descriptor.Commit, e.Descriptor.Channel, spec.Target)
}

// NewHTTPClient builds the HTTP client shared by the resolver and fetcher:
// proxy-aware, no overall timeout (downloads are streamed and bounded by
// context instead).
func NewHTTPClient(cfg *config.Config) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}

		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{Transport: transport}, nil
}

// Fetcher performs streaming downloads from the artifact store.
type Fetcher struct {
	// client is the shared proxy-aware HTTP client.
	client *http.Client
	// dryRun makes Fetch log the URL and transfer nothing.
	dryRun bool
}

// New creates a fetcher. With dryRun set, Fetch only logs would-be URLs.
func New(client *http.Client, dryRun bool) *Fetcher {
	return &Fetcher{client: client, dryRun: dryRun}
}

// Fetch opens a streaming GET for the archive. In dry-run mode it logs the
// URL and returns a nil stream without touching the network.
func (f *Fetcher) Fetch(ctx context.Context, descriptor toolchain.ArchiveDescriptor) (io.ReadCloser, error) {
	logger.Infof(ctx, "downloading <%s>...", descriptor.URL)

	if f.dryRun {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor.URL, http.NoBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "rustc-artifact-fetcher/"+version.Short())

	response, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_ = response.Body.Close()

		return nil, &MissingComponentError{Descriptor: descriptor}
	default:
		_ = response.Body.Close()

		return nil, &StatusError{URL: descriptor.URL, Code: response.StatusCode}
	}

	logger.DebugKV(ctx, "Download started",
		"component", descriptor.Spec.String(),
		"content_length", response.ContentLength)

	return response.Body, nil
}
