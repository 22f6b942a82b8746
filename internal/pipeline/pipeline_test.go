package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"arbiter/internal/aggregate"
	"arbiter/internal/config"
	"arbiter/internal/extract"
	"arbiter/internal/jobs"
	"arbiter/internal/ledger"
	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/retriever"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
	"arbiter/internal/testsupport"
)

type fakeFetcher struct {
	err      error
	fetches  int
	released bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceRef string) (*media.RawMedia, retriever.ReleaseFunc, error) {
	f.fetches++
	if f.err != nil {
		return nil, nil, f.err
	}
	raw := &media.RawMedia{Path: "/tmp/media.mp4", Meta: media.Metadata{Duration: time.Minute}}
	return raw, func() { f.released = true }, nil
}

type fakeExtractor struct {
	artifacts []media.Artifact
	warnings  []string
	err       error
	extracts  int
}

func (f *fakeExtractor) Extract(ctx context.Context, raw *media.RawMedia, density int) (*extract.Result, error) {
	f.extracts++
	if f.err != nil {
		return nil, f.err
	}
	return &extract.Result{Artifacts: f.artifacts, Warnings: f.warnings}, nil
}

type fakeAnalyzer struct {
	judge func(req providers.Request, providerID string) providers.Response
}

func (f *fakeAnalyzer) AnalyzeAll(ctx context.Context, requests []providers.Request, providerIDs []string) ([]providers.Response, error) {
	var out []providers.Response
	for _, req := range requests {
		for _, id := range providerIDs {
			if f.judge != nil {
				out = append(out, f.judge(req, id))
				continue
			}
			out = append(out, providers.Response{
				ArtifactOrdinal: req.Artifact.Ordinal,
				ArtifactDigest:  req.Artifact.Digest,
				ProviderID:      id,
				Judgment: &providers.Judgment{
					Scores:     map[string]float64{"technicality": 8, "originality": 7},
					Confidence: 0.9,
				},
			})
		}
	}
	return out, nil
}

type fakeRecorder struct {
	err     error
	records int
}

func (f *fakeRecorder) Record(ctx context.Context, commitment ledger.Commitment) (*aggregate.Receipt, error) {
	f.records++
	if f.err != nil {
		return nil, f.err
	}
	return &aggregate.Receipt{TransactionID: "tx-1", CommittedAt: "2026-08-28T10:00:00Z"}, nil
}

func testArtifacts(n int) []media.Artifact {
	out := make([]media.Artifact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, media.NewArtifact(media.KindFrame, i, 0, 0, "image/jpeg", []byte{byte(i)}))
	}
	return out
}

type testEnv struct {
	cfg       *config.Config
	store     *jobs.Store
	manager   *Manager
	fetcher   *fakeFetcher
	extractor *fakeExtractor
	analyzer  *fakeAnalyzer
	recorder  *fakeRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithCriteria(
		config.RubricCriterion{Name: "technicality", Weight: 50},
		config.RubricCriterion{Name: "originality", Weight: 50},
	))
	store := testsupport.MustOpenStore(t, cfg)

	env := &testEnv{
		cfg:       cfg,
		store:     store,
		fetcher:   &fakeFetcher{},
		extractor: &fakeExtractor{artifacts: testArtifacts(3)},
		analyzer:  &fakeAnalyzer{},
		recorder:  &fakeRecorder{},
	}
	env.manager = NewManager(cfg, Deps{
		Store:     store,
		Fetcher:   env.fetcher,
		Extractor: env.extractor,
		Analyzer:  env.analyzer,
		Recorder:  env.recorder,
		Rubric:    rubric.FromConfig(cfg.Aggregation),
	}, nil)
	return env
}

func (env *testEnv) submit(t *testing.T, commit bool) *jobs.Job {
	t.Helper()
	job, err := env.store.Create(context.Background(), jobs.NewJobParams{
		SourceRef:        "https://example.com/v/1",
		Density:          2,
		Providers:        []string{"openai", "openrouter"},
		CommitProvenance: commit,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (env *testEnv) reload(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := env.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return job
}

func TestProcessJobHappyPath(t *testing.T) {
	env := newTestEnv(t)
	job := env.submit(t, true)

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed (warnings: %v)", final.Status, final.Warnings)
	}
	if final.ReportJSON == "" {
		t.Fatal("expected report persisted")
	}
	var report aggregate.Report
	if err := json.Unmarshal([]byte(final.ReportJSON), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Artifacts) != 3 {
		t.Errorf("report entries = %d, want 3", len(report.Artifacts))
	}
	if report.Receipt == nil || report.Receipt.TransactionID != "tx-1" {
		t.Errorf("receipt = %+v", report.Receipt)
	}
	if !env.fetcher.released {
		t.Error("expected temp media released")
	}
	if env.recorder.records != 1 {
		t.Errorf("recorder called %d times", env.recorder.records)
	}
}

func TestProcessJobProviderQuotaYieldsPartial(t *testing.T) {
	env := newTestEnv(t)
	quota := services.Wrap(services.ErrQuotaExceeded, "analyzing", "openrouter", "quota", nil)
	env.analyzer.judge = func(req providers.Request, providerID string) providers.Response {
		resp := providers.Response{
			ArtifactOrdinal: req.Artifact.Ordinal,
			ArtifactDigest:  req.Artifact.Digest,
			ProviderID:      providerID,
		}
		if providerID == "openrouter" {
			resp.Err = quota
			return resp
		}
		resp.Judgment = &providers.Judgment{Scores: map[string]float64{"technicality": 8, "originality": 7}}
		return resp
	}
	job := env.submit(t, false)

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusPartial {
		t.Fatalf("status = %s, want partial", final.Status)
	}
	if len(final.Warnings) == 0 {
		t.Error("expected degradation warning")
	}
	var report aggregate.Report
	if err := json.Unmarshal([]byte(final.ReportJSON), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Summary.ProvidersFailed) != 1 || report.Summary.ProvidersFailed[0] != "openrouter" {
		t.Errorf("providers failed = %v", report.Summary.ProvidersFailed)
	}
}

func TestProcessJobSourceUnavailableFails(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = services.Wrap(services.ErrUnavailable, "retrieving", "probe", "removed", nil)
	job := env.submit(t, false)

	err := env.manager.processJob(context.Background(), job)
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ReasonCode != "source_unavailable" {
		t.Errorf("reason code = %q", final.ReasonCode)
	}
}

func TestProcessJobLedgerFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	env.recorder.err = services.Wrap(services.ErrRejected, "committing", "ledger", "bad hash", nil)
	job := env.submit(t, true)

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusPartial {
		t.Fatalf("status = %s, want partial after ledger degradation", final.Status)
	}
	var report aggregate.Report
	if err := json.Unmarshal([]byte(final.ReportJSON), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Receipt != nil {
		t.Error("expected absent receipt")
	}
}

func TestProcessJobCancellationRequested(t *testing.T) {
	env := newTestEnv(t)
	job := env.submit(t, false)
	if err := env.store.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.ReasonCode != "cancelled" {
		t.Errorf("reason code = %q", final.ReasonCode)
	}
	if env.fetcher.fetches != 0 {
		t.Errorf("fetch attempted %d times after cancel", env.fetcher.fetches)
	}
}

// cancellingProvider requests cancellation of its own job during the first
// judgment call.
type cancellingProvider struct {
	id    string
	store *jobs.Store
	jobID string

	mu    sync.Mutex
	calls int
}

func (p *cancellingProvider) ID() string { return p.id }

func (p *cancellingProvider) Judge(ctx context.Context, req providers.Request) (providers.Judgment, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		if err := p.store.RequestCancel(ctx, p.jobID); err != nil {
			return providers.Judgment{}, err
		}
	}
	return providers.Judgment{
		Scores:     map[string]float64{"technicality": 8, "originality": 7},
		Confidence: 0.9,
	}, nil
}

func (p *cancellingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestProcessJobCancellationDuringAnalysis(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCriteria(
		config.RubricCriterion{Name: "technicality", Weight: 50},
		config.RubricCriterion{Name: "originality", Weight: 50},
	))
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.Create(context.Background(), jobs.NewJobParams{
		SourceRef: "https://example.com/v/1",
		Density:   2,
		Providers: []string{"judge"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	provider := &cancellingProvider{id: "judge", store: store, jobID: job.ID}
	gateway := providers.NewGateway(nil)
	// One slot at a time, so every call after the first runs with the
	// cancel already persisted.
	gateway.Register(provider, config.Provider{RequestsPerMinute: 100000, MaxInFlight: 1, RetryAttempts: 1})

	manager := NewManager(cfg, Deps{
		Store:     store,
		Fetcher:   &fakeFetcher{},
		Extractor: &fakeExtractor{artifacts: testArtifacts(10)},
		Analyzer:  gateway,
		Recorder:  &fakeRecorder{},
		Rubric:    rubric.FromConfig(cfg.Aggregation),
	}, nil)

	if err := manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.ReasonCode != "cancelled" {
		t.Errorf("reason code = %q", final.ReasonCode)
	}
	if final.ReportJSON != "" {
		t.Error("expected judgments gathered before the cancel to be discarded")
	}
	if calls := provider.callCount(); calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no new call after the cancel)", calls)
	}
}

func TestProcessJobExtractionWarningsDegrade(t *testing.T) {
	env := newTestEnv(t)
	env.extractor.warnings = []string{"media has no audio track; skipping audio and transcript artifacts"}
	job := env.submit(t, false)

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	final := env.reload(t, job.ID)
	if final.Status != jobs.StatusPartial {
		t.Fatalf("status = %s, want partial", final.Status)
	}
	if len(final.Warnings) != 1 {
		t.Errorf("warnings = %v", final.Warnings)
	}
}

func TestProcessJobEventsTerminate(t *testing.T) {
	env := newTestEnv(t)
	job := env.submit(t, false)

	events, cancel := env.manager.Events().Subscribe(job.ID)
	defer cancel()

	if err := env.manager.processJob(context.Background(), job); err != nil {
		t.Fatalf("processJob: %v", err)
	}

	var sawTerminal bool
	for {
		select {
		case event := <-events:
			if event.Terminal {
				if event.Status != jobs.StatusCompleted {
					t.Errorf("terminal status = %s", event.Status)
				}
				sawTerminal = true
			}
		default:
		}
		if sawTerminal {
			break
		}
	}
	if !sawTerminal {
		t.Error("expected terminal event")
	}
}

func TestManagerRunLoopProcessesPendingJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.submit(t, false)

	events, cancel := env.manager.Events().Subscribe(job.ID)
	defer cancel()

	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer env.manager.Stop()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Terminal {
				if event.Status != jobs.StatusCompleted {
					t.Fatalf("terminal status = %s", event.Status)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for job completion")
		}
	}
}
