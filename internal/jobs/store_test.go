package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{
		SourceRef:        "https://example.com/v/1",
		Density:          2,
		Providers:        []string{"OpenAI", "openai", " openrouter "},
		CommitProvenance: true,
		Description:      "demo",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job id")
	}
	if job.Status != StatusPending {
		t.Errorf("Status = %s, want pending", job.Status)
	}
	if len(job.Providers) != 2 {
		t.Errorf("Providers = %v, want deduped [openai openrouter]", job.Providers)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SourceRef != job.SourceRef || !got.CommitProvenance {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, NewJobParams{SourceRef: " ", Density: 2}); err == nil {
		t.Error("expected error for empty source ref")
	}
	if _, err := store.Create(ctx, NewJobParams{SourceRef: "https://x", Density: 0}); err == nil {
		t.Error("expected error for zero density")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNextPendingOrdersByCreation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/a", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/b", Density: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest pending job %s, got %+v", first.ID, next)
	}

	if err := store.Transition(ctx, next, StatusRetrieving); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	second, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected second pending job, got %+v", second)
	}
}

func TestTransitionEnforcesStateMachine(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/v", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	steps := []Status{StatusRetrieving, StatusRetrieved, StatusExtracting, StatusExtracted, StatusAnalyzing, StatusCompleted}
	for _, next := range steps {
		if err := store.Transition(ctx, job, next); err != nil {
			t.Fatalf("Transition to %s: %v", next, err)
		}
	}
	if job.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %v, want 100", job.ProgressPercent)
	}

	// Terminal states reject further transitions.
	if err := store.Transition(ctx, job, StatusFailed); err == nil {
		t.Error("expected error transitioning out of a terminal state")
	}
}

func TestTransitionRejectsBackwards(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/v", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Transition(ctx, job, StatusExtracting); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Transition(ctx, job, StatusRetrieving); err == nil {
		t.Error("expected error for backwards transition")
	}
	// Failure is reachable from any non-terminal state.
	if err := store.Transition(ctx, job, StatusFailed); err != nil {
		t.Errorf("Transition to failed: %v", err)
	}
}

func TestRequestCancel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/v", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	flagged, err := store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !flagged {
		t.Error("expected cancel flag set")
	}

	// Terminal jobs cannot be cancelled.
	if err := store.Transition(ctx, job, StatusCancelled); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.RequestCancel(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for terminal job, got %v", err)
	}
}

func TestUpdateKeepsCancelFlagFromStaleCopy(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/v", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Load a copy before the cancel lands, as the orchestrator does while a
	// stage is executing.
	stale, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	if err := store.Transition(ctx, stale, StatusRetrieving); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	flagged, err := store.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelRequested: %v", err)
	}
	if !flagged {
		t.Error("cancel flag erased by update from a stale copy")
	}
}

func TestUpdatePersistsWarningsAndReport(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/v", Density: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job.AddWarning("provider openai disabled after quota exhaustion")
	job.AddWarning("provider openai disabled after quota exhaustion")
	job.ReportJSON = `{"job_id":"x"}`
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one deduped entry", got.Warnings)
	}
	if got.ReportJSON == "" {
		t.Error("expected report json persisted")
	}
}

func TestHealthSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/a", Density: 1})
	b, _ := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/b", Density: 1})
	if _, err := store.Create(ctx, NewJobParams{SourceRef: "https://example.com/c", Density: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Transition(ctx, a, StatusAnalyzing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.Transition(ctx, b, StatusFailed); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	summary, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if summary.Total != 3 || summary.Pending != 1 || summary.Processing != 1 || summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
