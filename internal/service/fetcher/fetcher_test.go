package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
)

// testDescriptor builds a descriptor pointing at the given URL.
func testDescriptor(url string) toolchain.ArchiveDescriptor {
	return toolchain.ArchiveDescriptor{
		Spec:    toolchain.NewComponentSpec(toolchain.ComponentCompiler, "x86_64-unknown-linux-gnu"),
		Commit:  "4fb54ed484e2239a3e9eff3be17df00d2a162be3",
		Channel: toolchain.ChannelNightly,
		URL:     url,
	}
}

// TestFetchStreamsBody returns the raw response body as a stream.
func TestFetchStreamsBody(t *testing.T) {
	t.Parallel()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("archive-bytes"))
	}))
	t.Cleanup(store.Close)

	f := New(store.Client(), false)

	stream, err := f.Fetch(context.Background(), testDescriptor(store.URL+"/a.tar.xz"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = stream.Close()
	})

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.Equal(t, "archive-bytes", string(body))
}

// TestFetchDryRun transfers nothing and reports no error.
func TestFetchDryRun(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(store.Close)

	f := New(store.Client(), true)

	stream, err := f.Fetch(context.Background(), testDescriptor(store.URL+"/a.tar.xz"))
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Zero(t, hits.Load())
}

// TestFetchStatusErrors maps 404 to a missing-component error carrying the
// descriptor context, and other statuses to StatusError.
func TestFetchStatusErrors(t *testing.T) {
	t.Parallel()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.tar.xz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(store.Close)

	f := New(store.Client(), false)

	_, err := f.Fetch(context.Background(), testDescriptor(store.URL+"/missing.tar.xz"))

	var missing *MissingComponentError

	require.ErrorAs(t, err, &missing)
	require.Contains(t, missing.Error(), "rustc")
	require.Contains(t, missing.Error(), "4fb54ed484e2239a3e9eff3be17df00d2a162be3")
	require.Contains(t, missing.Error(), "nightly")

	_, err = f.Fetch(context.Background(), testDescriptor(store.URL+"/flaky.tar.xz"))

	var status *StatusError

	require.ErrorAs(t, err, &status)
	require.Equal(t, http.StatusBadGateway, status.Code)
}

// TestRetryTransient retries 5xx responses with growing backoff and stops
// after the configured number of attempts.
func TestRetryTransient(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(store.Close)

	var slept []time.Duration

	f := New(store.Client(), false)
	fetch := Retry(f.Fetch, 3, func(d time.Duration) { slept = append(slept, d) })

	stream, err := fetch(context.Background(), testDescriptor(store.URL+"/a.tar.xz"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = stream.Close()
	})

	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, []time.Duration{4 * time.Second, 9 * time.Second}, slept)
}

// TestRetryPermanent never retries a missing component.
func TestRetryPermanent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(store.Close)

	f := New(store.Client(), false)
	fetch := Retry(f.Fetch, 5, func(time.Duration) { t.Fatal("must not sleep for permanent errors") })

	_, err := fetch(context.Background(), testDescriptor(store.URL+"/a.tar.xz"))

	var missing *MissingComponentError

	require.ErrorAs(t, err, &missing)
	require.EqualValues(t, 1, hits.Load())
}

// TestRetryExhausted wraps the last transient error once attempts run out.
func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(store.Close)

	f := New(store.Client(), false)
	fetch := Retry(f.Fetch, 2, func(time.Duration) {})

	_, err := fetch(context.Background(), testDescriptor(store.URL+"/a.tar.xz"))

	var status *StatusError

	require.ErrorAs(t, err, &status)
	require.Contains(t, err.Error(), "giving up after 2 attempts")
}
