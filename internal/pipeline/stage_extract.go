package pipeline

import (
	"context"
	"log/slog"

	"arbiter/internal/artifactcache"
	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/stage"
)

// extractHandler derives artifacts from the downloaded media and stores them
// in the cache. Skipped entirely on a cache hit.
type extractHandler struct {
	extractor ArtifactExtractor
	cache     *artifactcache.Store
	logger    *slog.Logger
}

func newExtractHandler(extractor ArtifactExtractor, cache *artifactcache.Store, logger *slog.Logger) *extractHandler {
	return &extractHandler{extractor: extractor, cache: cache, logger: logger}
}

func (h *extractHandler) Name() string { return "extract" }

func (h *extractHandler) Execute(ctx context.Context, exec *stage.Execution) error {
	if exec.FromCache {
		return nil
	}
	if exec.Raw == nil {
		return services.Wrap(services.ErrValidation, "extracting", "execute", "no media retrieved", nil)
	}

	result, err := h.extractor.Extract(ctx, exec.Raw, exec.Job.Density)
	if err != nil {
		return err
	}
	exec.Artifacts = result.Artifacts
	for _, warning := range result.Warnings {
		exec.Job.AddWarning(warning)
	}

	h.cache.Put(ctx, exec.Fingerprint, exec.Artifacts)

	// Raw media is no longer needed once artifacts exist.
	exec.Cleanup()
	h.logger.InfoContext(ctx, "extraction finished",
		logging.String(logging.FieldJobID, exec.Job.ID),
		logging.Int("artifacts", len(exec.Artifacts)),
		logging.Int("warnings", len(result.Warnings)),
	)
	return nil
}

func (h *extractHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.extractor == nil {
		return stage.Unhealthy(h.Name(), "no extractor configured")
	}
	return stage.Healthy(h.Name())
}
