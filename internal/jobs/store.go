package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"arbiter/internal/config"
)

// ErrNotFound is returned when a job identifier is unknown.
var ErrNotFound = errors.New("job not found")

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.DataDir, "jobs.db"))
}

// OpenPath opens a job store at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewJobParams captures the caller-supplied fields of a submission.
type NewJobParams struct {
	SourceRef        string
	Density          int
	Providers        []string
	CommitProvenance bool
	Description      string
	RepoURL          string
}

// Create inserts a new pending job and returns it.
func (s *Store) Create(ctx context.Context, params NewJobParams) (*Job, error) {
	sourceRef := strings.TrimSpace(params.SourceRef)
	if sourceRef == "" {
		return nil, errors.New("source ref required")
	}
	if params.Density <= 0 {
		return nil, errors.New("density must be positive")
	}

	providersJSON, err := json.Marshal(normalizeProviders(params.Providers))
	if err != nil {
		return nil, fmt.Errorf("marshal providers: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err = s.execWithoutResultRetry(ctx,
		`INSERT INTO jobs (
            id, source_ref, density, providers_json, commit_provenance,
            description, repo_url, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		sourceRef,
		params.Density,
		string(providersJSON),
		boolToInt(params.CommitProvenance),
		strings.TrimSpace(params.Description),
		strings.TrimSpace(params.RepoURL),
		string(StatusPending),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// NextPending returns the oldest pending job, or nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		string(StatusPending),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

// Update persists the mutable fields of a job. The cancel_requested flag is
// deliberately not written here: RequestCancel is its only writer, so a
// cancel landing between a caller's load and its update survives.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("job with id required")
	}
	warningsJSON, err := json.Marshal(job.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	job.UpdatedAt = time.Now().UTC()

	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET
            status = ?, error_message = ?, reason_code = ?,
            progress_percent = ?, progress_message = ?, warnings_json = ?,
            report_json = ?, updated_at = ?
        WHERE id = ?`,
		string(job.Status),
		job.ErrorMessage,
		job.ReasonCode,
		job.ProgressPercent,
		job.ProgressMessage,
		string(warningsJSON),
		job.ReportJSON,
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: rows affected: %w", job.ID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Transition moves a job to the next status after validating the state
// machine, then persists it.
func (s *Store) Transition(ctx context.Context, job *Job, next Status) error {
	if job == nil {
		return errors.New("job required")
	}
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("invalid transition %s -> %s", job.Status, next)
	}
	job.Status = next
	job.ProgressPercent = next.Percent()
	return s.Update(ctx, job)
}

// RequestCancel flags a job for cooperative cancellation. Terminal jobs are
// left untouched.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		string(StatusCompleted), string(StatusPartial), string(StatusFailed), string(StatusCancelled),
	)
	if err != nil {
		return fmt.Errorf("request cancel %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("request cancel %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelRequested reports whether cancellation has been flagged for a job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("cancel flag %s: %w", id, err)
	}
	return flag != 0, nil
}

// List returns all jobs, newest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// HealthSummary describes aggregated job counts per lifecycle bucket.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Health computes queue-level counts for diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	ctx = ensureContext(ctx)
	var summary HealthSummary
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return summary, fmt.Errorf("health query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		var count int
		if err := rows.Scan(&raw, &count); err != nil {
			return summary, fmt.Errorf("health scan: %w", err)
		}
		summary.Total += count
		status, ok := ParseStatus(raw)
		if !ok {
			continue
		}
		switch {
		case status == StatusPending:
			summary.Pending += count
		case status.IsProcessing():
			summary.Processing += count
		case status == StatusCompleted || status == StatusPartial:
			summary.Completed += count
		case status == StatusFailed || status == StatusCancelled:
			summary.Failed += count
		default:
			summary.Processing += count
		}
	}
	return summary, rows.Err()
}
