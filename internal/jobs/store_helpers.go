package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const selectColumns = `SELECT
    id, source_ref, density, providers_json, commit_provenance,
    description, repo_url, status, error_message, reason_code,
    progress_percent, progress_message, warnings_json, report_json,
    cancel_requested, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job              Job
		providersJSON    string
		warningsJSON     string
		status           string
		commitProvenance int
		cancelRequested  int
		createdAt        string
		updatedAt        string
	)
	err := row.Scan(
		&job.ID,
		&job.SourceRef,
		&job.Density,
		&providersJSON,
		&commitProvenance,
		&job.Description,
		&job.RepoURL,
		&status,
		&job.ErrorMessage,
		&job.ReasonCode,
		&job.ProgressPercent,
		&job.ProgressMessage,
		&warningsJSON,
		&job.ReportJSON,
		&cancelRequested,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = Status(status)
	job.CommitProvenance = commitProvenance != 0
	job.CancelRequested = cancelRequested != 0

	if providersJSON != "" {
		if err := json.Unmarshal([]byte(providersJSON), &job.Providers); err != nil {
			return nil, err
		}
	}
	if warningsJSON != "" {
		if err := json.Unmarshal([]byte(warningsJSON), &job.Warnings); err != nil {
			return nil, err
		}
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func normalizeProviders(providers []string) []string {
	out := make([]string, 0, len(providers))
	seen := map[string]struct{}{}
	for _, p := range providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
