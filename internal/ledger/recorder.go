package ledger

import (
	"context"
	"log/slog"
	"time"

	"arbiter/internal/aggregate"
	"arbiter/internal/logging"
	"arbiter/internal/services"
)

// Recorder commits report provenance with a single resubmission for
// transient failures. Commitment is best-effort: callers treat a returned
// error as a degradation, never a job failure.
type Recorder struct {
	client  Client
	logger  *slog.Logger
	sleeper func(context.Context, time.Duration) error

	resubmitDelay time.Duration
}

// NewRecorder builds a recorder around a ledger client.
func NewRecorder(client Client, logger *slog.Logger) *Recorder {
	return &Recorder{
		client:        client,
		logger:        logging.NewComponentLogger(logger, "ledger"),
		sleeper:       sleepContext,
		resubmitDelay: 2 * time.Second,
	}
}

// Record commits the report hash and returns the receipt to embed in the
// report. Exactly one resubmission is attempted for transient failures;
// rejection and funds errors are surfaced immediately.
func (r *Recorder) Record(ctx context.Context, commitment Commitment) (*aggregate.Receipt, error) {
	receipt, err := r.client.Commit(ctx, commitment)
	if err != nil && services.IsTransient(err) {
		r.logger.WarnContext(ctx, "ledger commit failed; resubmitting once",
			logging.String(logging.FieldJobID, commitment.JobID),
			logging.Error(err),
		)
		if sleepErr := r.sleeper(ctx, r.resubmitDelay); sleepErr != nil {
			return nil, services.Wrap(services.ErrCancelled, "committing", "ledger", "resubmission interrupted", sleepErr)
		}
		receipt, err = r.client.Commit(ctx, commitment)
	}
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "provenance committed",
		logging.String(logging.FieldJobID, commitment.JobID),
		logging.String("transaction_id", receipt.TransactionID),
	)
	return &aggregate.Receipt{
		TransactionID: receipt.TransactionID,
		Endpoint:      commitmentEndpoint(r.client),
		CommittedAt:   receipt.CommittedAt.UTC().Format(time.RFC3339),
	}, nil
}

func commitmentEndpoint(client Client) string {
	if hc, ok := client.(*HTTPClient); ok {
		return hc.endpoint
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
