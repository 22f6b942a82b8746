package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/logging"
	"arbiter/internal/media"
	"arbiter/internal/services"
)

// Fetcher is the external download capability. Implementations classify
// failures with the services sentinels: ErrUnavailable, ErrBlocked,
// ErrTooLarge, ErrNetwork.
type Fetcher interface {
	Probe(ctx context.Context, sourceRef string) (media.Metadata, error)
	Download(ctx context.Context, sourceRef, destDir string) (string, media.Metadata, error)
}

// ReleaseFunc frees the temp storage backing a RawMedia. Safe to call more
// than once.
type ReleaseFunc func()

// Retriever fetches source media with size/duration ceilings and bounded
// retries for transient failures.
type Retriever struct {
	fetcher Fetcher
	cfg     config.Retriever
	logger  *slog.Logger
	sleeper func(context.Context, time.Duration) error
}

// New builds a retriever around a fetcher capability.
func New(fetcher Fetcher, cfg config.Retriever, logger *slog.Logger) *Retriever {
	return &Retriever{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "retriever"),
		sleeper: sleepContext,
	}
}

// Fetch validates, probes, and downloads the source. The returned release
// function must be called once the media is no longer needed; on error the
// temp area is already cleaned up.
func (r *Retriever) Fetch(ctx context.Context, sourceRef string) (*media.RawMedia, ReleaseFunc, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if err := validateSourceRef(sourceRef); err != nil {
		return nil, nil, err
	}

	maxDuration := time.Duration(r.cfg.MaxDurationMinutes) * time.Minute
	maxBytes := r.cfg.MaxSizeMiB * 1024 * 1024

	probed, err := withRetry(ctx, r, "probe", func() (media.Metadata, error) {
		return r.fetcher.Probe(ctx, sourceRef)
	})
	if err != nil {
		return nil, nil, err
	}
	if probed.Duration > maxDuration {
		return nil, nil, services.Wrap(services.ErrTooLarge, "retrieving", "probe",
			fmt.Sprintf("duration %s exceeds ceiling %s", probed.Duration, maxDuration), nil)
	}
	if probed.SizeBytes > maxBytes {
		return nil, nil, services.Wrap(services.ErrTooLarge, "retrieving", "probe",
			fmt.Sprintf("size %d exceeds ceiling %d bytes", probed.SizeBytes, maxBytes), nil)
	}

	tempDir, err := os.MkdirTemp("", "arbiter-media-*")
	if err != nil {
		return nil, nil, services.Wrap(services.ErrNetwork, "retrieving", "tempdir", "create temp storage", err)
	}
	release := func() { _ = os.RemoveAll(tempDir) }

	type downloadResult struct {
		path string
		meta media.Metadata
	}
	result, err := withRetry(ctx, r, "download", func() (downloadResult, error) {
		path, meta, err := r.fetcher.Download(ctx, sourceRef, tempDir)
		return downloadResult{path: path, meta: meta}, err
	})
	if err != nil {
		release()
		return nil, nil, err
	}

	meta := result.meta
	if meta.Duration == 0 {
		meta.Duration = probed.Duration
	}
	if meta.SizeBytes == 0 {
		if info, statErr := os.Stat(result.path); statErr == nil {
			meta.SizeBytes = info.Size()
		}
	}
	if meta.SizeBytes > maxBytes {
		release()
		return nil, nil, services.Wrap(services.ErrTooLarge, "retrieving", "download",
			fmt.Sprintf("downloaded size %d exceeds ceiling %d bytes", meta.SizeBytes, maxBytes), nil)
	}

	r.logger.InfoContext(ctx, "media retrieved",
		logging.String("source_ref", sourceRef),
		logging.String("path", result.path),
		logging.Duration("duration", meta.Duration),
		logging.Int64("size_bytes", meta.SizeBytes),
	)
	return &media.RawMedia{Path: result.path, Meta: meta}, release, nil
}

// withRetry runs op, retrying transient failures with exponential backoff and
// jitter. Permanent failures are surfaced immediately.
func withRetry[T any](ctx context.Context, r *Retriever, op string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := r.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	baseDelay := time.Duration(r.cfg.RetryBaseDelayMS) * time.Millisecond
	maxDelay := time.Duration(r.cfg.RetryMaxDelayMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !services.IsTransient(err) || attempt == attempts {
			return zero, err
		}

		delay := backoffDelay(baseDelay, maxDelay, attempt)
		r.logger.WarnContext(ctx, "transient retrieval failure; retrying",
			logging.String("operation", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := r.sleeper(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func validateSourceRef(sourceRef string) error {
	if sourceRef == "" {
		return services.Wrap(services.ErrValidation, "retrieving", "validate", "source ref required", nil)
	}
	parsed, err := url.Parse(sourceRef)
	if err != nil {
		return services.Wrap(services.ErrValidation, "retrieving", "validate", "source ref is not a URL", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		return nil
	default:
		return services.Wrap(services.ErrValidation, "retrieving", "validate",
			fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << (attempt - 1)
	if max > 0 && delay > max {
		delay = max
	}
	// Jitter up to half the delay keeps concurrent retries spread out.
	return delay + time.Duration(rand.Int63n(int64(delay/2)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
