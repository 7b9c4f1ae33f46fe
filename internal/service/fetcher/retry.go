package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oshokin/rustc-artifact-fetcher/internal/domain/toolchain"
	"github.com/oshokin/rustc-artifact-fetcher/internal/logger"
)

// Retry decorates a fetch function with bounded retries of transient
// failures. The sleep function is injectable for tests; pass time.Sleep in
// production. Backoff grows quadratically with the attempt number.
func Retry(fn Func, maxAttempts int, sleep func(time.Duration)) Func {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return func(ctx context.Context, descriptor toolchain.ArchiveDescriptor) (io.ReadCloser, error) {
		var lastErr error

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			if attempt > 1 {
				backoff := time.Duration(attempt*attempt) * time.Second
				logger.Warnf(ctx, "retrying <%s> in %s (attempt %d of %d)",
					descriptor.URL, backoff, attempt, maxAttempts)
				sleep(backoff)
			}

			stream, err := fn(ctx, descriptor)
			if err == nil {
				return stream, nil
			}

			if !isTransient(err) {
				return nil, err
			}

			lastErr = err
		}

		return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
	}
}

// isTransient classifies fetch failures. Server-side errors and transport
// failures are worth retrying; missing components, client errors and
// cancellation are permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var missing *MissingComponentError
	if errors.As(err, &missing) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}

	// Anything else is a transport-level failure (connection reset, DNS, ...).
	return true
}
