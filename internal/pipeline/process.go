package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"arbiter/internal/jobs"
	"arbiter/internal/logging"
	"arbiter/internal/services"
	"arbiter/internal/stage"
)

// processJob drives one job through the stage chain. Between stages the job
// checks for cancellation requests; failures terminate the job with a
// machine-readable reason code.
func (m *Manager) processJob(ctx context.Context, job *jobs.Job) error {
	requestID := uuid.NewString()
	jobCtx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithRequestID(jobCtx, requestID)
	// Long-running stages consult this between units of work so a cancel
	// takes effect without killing calls already in flight.
	jobCtx = services.WithCancellationCheck(jobCtx, func(checkCtx context.Context) bool {
		requested, err := m.deps.Store.CancelRequested(checkCtx, job.ID)
		return err == nil && requested
	})

	exec := &stage.Execution{Job: job}
	defer exec.Cleanup()

	jobLogger := m.logger.With(logging.String(logging.FieldJobID, job.ID))
	jobStart := time.Now()
	jobLogger.InfoContext(jobCtx, "job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("source_ref", job.SourceRef),
	)

	for _, binding := range m.handlers {
		if cancelled, err := m.checkCancellation(jobCtx, job); err != nil {
			return err
		} else if cancelled {
			return m.finishCancelled(ctx, jobLogger, job)
		}

		if err := m.runStage(jobCtx, jobLogger, binding, exec); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				// Daemon shutdown, not a job failure; the job stays in its
				// processing status and is reclaimed on restart.
				return context.Canceled
			}
			if errors.Is(err, services.ErrCancelled) {
				return m.finishCancelled(ctx, jobLogger, job)
			}
			return m.finishFailed(ctx, jobLogger, job, binding.handler.Name(), err)
		}
	}

	m.finalizeReport(jobCtx, jobLogger, job, exec)

	jobLogger.InfoContext(jobCtx, "job finished",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("status", string(job.Status)),
		logging.Duration("elapsed", time.Since(jobStart)),
	)
	return nil
}

func (m *Manager) runStage(ctx context.Context, jobLogger *slog.Logger, binding stageBinding, exec *stage.Execution) error {
	job := exec.Job
	if err := m.deps.Store.Transition(ctx, job, binding.processing); err != nil {
		return fmt.Errorf("transition to %s: %w", binding.processing, err)
	}
	m.publish(job, false)

	stageCtx := services.WithStage(ctx, binding.handler.Name())
	start := time.Now()
	if err := binding.handler.Execute(stageCtx, exec); err != nil {
		return err
	}

	if !binding.done.IsTerminal() {
		job.SetProgress(binding.done.Percent(), fmt.Sprintf("%s finished", binding.handler.Name()))
		if err := m.deps.Store.Transition(ctx, job, binding.done); err != nil {
			return fmt.Errorf("transition to %s: %w", binding.done, err)
		}
		m.publish(job, false)
	}
	jobLogger.InfoContext(stageCtx, "stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldStage, binding.handler.Name()),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}

func (m *Manager) checkCancellation(ctx context.Context, job *jobs.Job) (bool, error) {
	requested, err := m.deps.Store.CancelRequested(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("check cancellation: %w", err)
	}
	return requested, nil
}

func (m *Manager) finishCancelled(ctx context.Context, jobLogger *slog.Logger, job *jobs.Job) error {
	job.Status = jobs.StatusCancelled
	job.ReasonCode = "cancelled"
	job.ErrorMessage = "cancelled by request"
	job.SetProgress(jobs.StatusCancelled.Percent(), "cancelled")
	if err := m.deps.Store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist cancellation: %w", err)
	}
	m.publish(job, true)
	jobLogger.InfoContext(ctx, "job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return nil
}

func (m *Manager) finishFailed(ctx context.Context, jobLogger *slog.Logger, job *jobs.Job, stageName string, stageErr error) error {
	job.SetFailed(services.ReasonCode(stageErr), stageErr.Error())
	if err := m.deps.Store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	m.publish(job, true)
	jobLogger.ErrorContext(ctx, "job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldStage, stageName),
		logging.String("reason_code", job.ReasonCode),
		logging.Error(stageErr),
	)
	if err := m.deps.Notifier.NotifyJobFailed(ctx, job); err != nil {
		jobLogger.ErrorContext(ctx, "failure notification failed", logging.Error(err))
	}
	return stageErr
}

// finalizeReport persists the report and settles the terminal status: partial
// when anything degraded along the way, completed otherwise.
func (m *Manager) finalizeReport(ctx context.Context, jobLogger *slog.Logger, job *jobs.Job, exec *stage.Execution) {
	var score float64
	if exec.Report != nil {
		// Job warnings raised before aggregation are already hashed into the
		// report; later ones (ledger degradation) live on the job only so the
		// committed hash stays valid.
		if encoded, err := json.Marshal(exec.Report); err == nil {
			job.ReportJSON = string(encoded)
		} else {
			jobLogger.ErrorContext(ctx, "failed to encode report", logging.Error(err))
		}
		score = exec.Report.Summary.Score
	}

	degraded := len(job.Warnings) > 0
	if exec.Report != nil {
		degraded = degraded ||
			exec.Report.Summary.UnanalyzedArtifacts > 0 ||
			len(exec.Report.Summary.ProvidersFailed) > 0
	}
	if degraded {
		job.Status = jobs.StatusPartial
	} else {
		job.Status = jobs.StatusCompleted
	}
	job.SetProgress(job.Status.Percent(), string(job.Status))
	if err := m.deps.Store.Update(ctx, job); err != nil {
		jobLogger.ErrorContext(ctx, "failed to persist final status", logging.Error(err))
	}
	m.publish(job, true)

	var notifyErr error
	if job.Status == jobs.StatusPartial {
		notifyErr = m.deps.Notifier.NotifyJobPartial(ctx, job, score)
	} else {
		notifyErr = m.deps.Notifier.NotifyJobCompleted(ctx, job, score)
	}
	if notifyErr != nil {
		jobLogger.ErrorContext(ctx, "completion notification failed", logging.Error(notifyErr))
	}
}

func (m *Manager) publish(job *jobs.Job, terminal bool) {
	m.events.Publish(Event{
		JobID:    job.ID,
		Status:   job.Status,
		Percent:  job.ProgressPercent,
		Message:  job.ProgressMessage,
		Terminal: terminal,
	})
}
