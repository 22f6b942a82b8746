package pipeline

import (
	"context"
	"log/slog"

	"arbiter/internal/artifactcache"
	"arbiter/internal/config"
	"arbiter/internal/fingerprint"
	"arbiter/internal/logging"
	"arbiter/internal/stage"
)

// retrieveHandler fetches the source media, consulting the artifact cache
// first so unchanged inputs skip both the download and extraction.
type retrieveHandler struct {
	cfg     *config.Config
	fetcher MediaFetcher
	cache   *artifactcache.Store
	logger  *slog.Logger
}

func newRetrieveHandler(cfg *config.Config, fetcher MediaFetcher, cache *artifactcache.Store, logger *slog.Logger) *retrieveHandler {
	return &retrieveHandler{cfg: cfg, fetcher: fetcher, cache: cache, logger: logger}
}

func (h *retrieveHandler) Name() string { return "retrieve" }

func (h *retrieveHandler) Execute(ctx context.Context, exec *stage.Execution) error {
	job := exec.Job
	exec.Fingerprint = fingerprint.Compute(fingerprint.Params{
		SourceRef:         job.SourceRef,
		Density:           job.Density,
		AudioChunkSeconds: h.cfg.Extractor.AudioChunkSeconds,
		Transcribe:        h.cfg.Extractor.Transcribe,
	})

	if artifacts, ok := h.cache.Get(ctx, exec.Fingerprint); ok {
		exec.Artifacts = artifacts
		exec.FromCache = true
		h.logger.InfoContext(ctx, "artifact cache hit; skipping retrieval",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("artifacts", len(artifacts)),
		)
		return nil
	}

	raw, release, err := h.fetcher.Fetch(ctx, job.SourceRef)
	if err != nil {
		return err
	}
	exec.Raw = raw
	exec.Release = release
	return nil
}

func (h *retrieveHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.fetcher == nil {
		return stage.Unhealthy(h.Name(), "no fetcher configured")
	}
	return stage.Healthy(h.Name())
}
