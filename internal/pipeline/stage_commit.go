package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"arbiter/internal/ledger"
	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/stage"
)

// commitHandler records report provenance in the ledger. Best-effort: a
// failed commit degrades the job with a warning and an absent receipt, never
// fails it.
type commitHandler struct {
	recorder ProvenanceRecorder
	logger   *slog.Logger
}

func newCommitHandler(recorder ProvenanceRecorder, logger *slog.Logger) *commitHandler {
	return &commitHandler{recorder: recorder, logger: logger}
}

func (h *commitHandler) Name() string { return "commit" }

func (h *commitHandler) Execute(ctx context.Context, exec *stage.Execution) error {
	job := exec.Job
	if exec.Report == nil {
		return services.Wrap(services.ErrValidation, "committing", "execute", "no report to commit", nil)
	}
	if !job.CommitProvenance || h.recorder == nil {
		return nil
	}

	receipt, err := h.recorder.Record(ctx, ledger.Commitment{
		JobID:       job.ID,
		SourceRef:   job.SourceRef,
		Fingerprint: exec.Fingerprint,
		ReportHash:  exec.Report.Hash,
	})
	if err != nil {
		job.AddWarning(fmt.Sprintf("provenance commit failed: %v", err))
		h.logger.WarnContext(ctx, "provenance commit failed; continuing without receipt",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
		return nil
	}
	exec.Report.Receipt = receipt
	return nil
}

func (h *commitHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(h.Name())
}
