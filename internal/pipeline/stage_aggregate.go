package pipeline

import (
	"context"

	"arbiter/internal/aggregate"
	"arbiter/internal/config"
	"arbiter/internal/rubric"
	"arbiter/internal/stage"
)

// aggregateHandler folds the provider responses into the final report.
type aggregateHandler struct {
	cfg    *config.Config
	rubric rubric.Rubric
}

func newAggregateHandler(cfg *config.Config, r rubric.Rubric) *aggregateHandler {
	return &aggregateHandler{cfg: cfg, rubric: r}
}

func (h *aggregateHandler) Name() string { return "aggregate" }

func (h *aggregateHandler) Execute(ctx context.Context, exec *stage.Execution) error {
	job := exec.Job
	weights := make(map[string]float64, len(h.cfg.Providers))
	for id, provider := range h.cfg.Providers {
		weights[id] = provider.Weight
	}

	report, err := aggregate.Aggregate(aggregate.Input{
		JobID:            job.ID,
		SourceRef:        job.SourceRef,
		Fingerprint:      exec.Fingerprint,
		Rubric:           h.rubric,
		Artifacts:        exec.Artifacts,
		Responses:        exec.Responses,
		ProviderWeights:  weights,
		DisputeThreshold: h.cfg.Aggregation.DisputeThreshold,
		Warnings:         job.Warnings,
	})
	if err != nil {
		return err
	}
	exec.Report = report
	return nil
}

func (h *aggregateHandler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.rubric.Validate(); err != nil {
		return stage.Unhealthy(h.Name(), err.Error())
	}
	return stage.Healthy(h.Name())
}
