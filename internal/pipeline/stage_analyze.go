package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"arbiter/internal/logging"
	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
	"arbiter/internal/stage"
)

// analyzeHandler assembles the prompt context and fans artifacts out to the
// job's providers through the gateway.
type analyzeHandler struct {
	analyzer     Analyzer
	rubric       rubric.Rubric
	readmeClient *http.Client
	logger       *slog.Logger
}

func newAnalyzeHandler(analyzer Analyzer, r rubric.Rubric, readmeClient *http.Client, logger *slog.Logger) *analyzeHandler {
	return &analyzeHandler{analyzer: analyzer, rubric: r, readmeClient: readmeClient, logger: logger}
}

func (h *analyzeHandler) Name() string { return "analyze" }

func (h *analyzeHandler) Execute(ctx context.Context, exec *stage.Execution) error {
	job := exec.Job
	if len(exec.Artifacts) == 0 {
		return services.Wrap(services.ErrValidation, "analyzing", "execute", "no artifacts to analyze", nil)
	}
	if len(job.Providers) == 0 {
		return services.Wrap(services.ErrConfiguration, "analyzing", "execute", "no providers selected", nil)
	}

	exec.PromptContext = rubric.PromptContext{
		Description: job.Description,
		Transcript:  joinTranscripts(exec.Artifacts),
	}
	if job.RepoURL != "" {
		readme, err := fetchReadme(ctx, h.readmeClient, job.RepoURL)
		if err != nil {
			job.AddWarning(fmt.Sprintf("readme unavailable: %v", err))
			h.logger.WarnContext(ctx, "readme fetch failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		} else {
			exec.PromptContext.ReadmeText = readme
		}
	}

	requests := make([]providers.Request, 0, len(exec.Artifacts))
	for _, artifact := range exec.Artifacts {
		requests = append(requests, providers.Request{
			Artifact:     artifact,
			SystemPrompt: rubric.SystemPrompt,
			UserPrompt:   h.rubric.RenderUserPrompt(artifact, exec.PromptContext),
		})
	}

	responses, err := h.analyzer.AnalyzeAll(ctx, requests, job.Providers)
	if err != nil {
		return err
	}
	if services.CancellationRequested(ctx) {
		// Responses gathered before the cancel are discarded; the job ends
		// cancelled, not partial.
		return services.Wrap(services.ErrCancelled, "analyzing", "execute", "cancellation requested during analysis", nil)
	}
	exec.Responses = responses

	var failures int
	for _, resp := range responses {
		if resp.Err != nil {
			failures++
		}
	}
	if failures == len(responses) {
		return services.Wrap(services.ErrUnavailable, "analyzing", "execute", "every provider call failed", nil)
	}
	if failures > 0 {
		job.AddWarning(fmt.Sprintf("%d of %d provider calls failed", failures, len(responses)))
	}
	return nil
}

func (h *analyzeHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.analyzer == nil {
		return stage.Unhealthy(h.Name(), "no analyzer configured")
	}
	if err := h.rubric.Validate(); err != nil {
		return stage.Unhealthy(h.Name(), err.Error())
	}
	return stage.Healthy(h.Name())
}

// joinTranscripts concatenates transcript artifacts in ordinal order for use
// as cross-artifact context.
func joinTranscripts(artifacts []media.Artifact) string {
	var parts []string
	for _, a := range artifacts {
		if a.Kind == media.KindText {
			parts = append(parts, strings.TrimSpace(string(a.Payload)))
		}
	}
	return strings.Join(parts, "\n")
}
