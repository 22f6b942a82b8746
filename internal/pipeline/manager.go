package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"arbiter/internal/aggregate"
	"arbiter/internal/artifactcache"
	"arbiter/internal/config"
	"arbiter/internal/extract"
	"arbiter/internal/jobs"
	"arbiter/internal/ledger"
	"arbiter/internal/logging"
	"arbiter/internal/media"
	"arbiter/internal/notifications"
	"arbiter/internal/providers"
	"arbiter/internal/retriever"
	"arbiter/internal/rubric"
	"arbiter/internal/stage"
)

// MediaFetcher is the retrieval capability the pipeline depends on.
type MediaFetcher interface {
	Fetch(ctx context.Context, sourceRef string) (*media.RawMedia, retriever.ReleaseFunc, error)
}

// ArtifactExtractor derives artifacts from retrieved media.
type ArtifactExtractor interface {
	Extract(ctx context.Context, raw *media.RawMedia, density int) (*extract.Result, error)
}

// Analyzer fans judgment requests out to the configured providers.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, requests []providers.Request, providerIDs []string) ([]providers.Response, error)
}

// ProvenanceRecorder commits report provenance. Nil disables commits.
type ProvenanceRecorder interface {
	Record(ctx context.Context, commitment ledger.Commitment) (*aggregate.Receipt, error)
}

// Deps bundles the collaborators the manager drives.
type Deps struct {
	Store     *jobs.Store
	Fetcher   MediaFetcher
	Extractor ArtifactExtractor
	Cache     *artifactcache.Store
	Analyzer  Analyzer
	Recorder  ProvenanceRecorder
	Notifier  notifications.Service
	Rubric    rubric.Rubric

	// ReadmeClient fetches repository READMEs for prompt context. Defaults
	// to a plain client with a short timeout.
	ReadmeClient *http.Client
}

// Manager polls the job store and drives each pending job through the stage
// chain. One job is processed at a time; provider fan-out inside the analyze
// stage supplies the concurrency.
type Manager struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	events   *Hub
	handlers []stageBinding

	pollInterval time.Duration
	errorRetry   time.Duration
	jobTimeout   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type stageBinding struct {
	processing jobs.Status
	done       jobs.Status
	handler    stage.Handler
}

// NewManager constructs a pipeline manager.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewNop()
	}
	if deps.ReadmeClient == nil {
		deps.ReadmeClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger = logging.NewComponentLogger(logger, "pipeline")

	m := &Manager{
		cfg:          cfg,
		deps:         deps,
		logger:       logger,
		events:       NewHub(),
		pollInterval: secondsOrDefault(cfg.Workflow.PollIntervalSeconds, 2*time.Second),
		errorRetry:   secondsOrDefault(cfg.Workflow.ErrorRetrySeconds, 5*time.Second),
		jobTimeout:   minutesOrDefault(cfg.Workflow.JobTimeoutMinutes, time.Hour),
	}
	m.handlers = []stageBinding{
		{jobs.StatusRetrieving, jobs.StatusRetrieved, newRetrieveHandler(cfg, deps.Fetcher, deps.Cache, logger)},
		{jobs.StatusExtracting, jobs.StatusExtracted, newExtractHandler(deps.Extractor, deps.Cache, logger)},
		{jobs.StatusAnalyzing, jobs.StatusAnalyzed, newAnalyzeHandler(deps.Analyzer, deps.Rubric, deps.ReadmeClient, logger)},
		{jobs.StatusAggregating, jobs.StatusAggregated, newAggregateHandler(cfg, deps.Rubric)},
		{jobs.StatusCommitting, jobs.StatusCompleted, newCommitHandler(deps.Recorder, logger)},
	}
	return m
}

// Events exposes the job event hub for API subscribers.
func (m *Manager) Events() *Hub { return m.events }

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for the in-flight job.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// LastError returns the most recent processing error, for health reporting.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// Health reports the readiness of every stage handler.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(m.handlers))
	for _, binding := range m.handlers {
		out = append(out, binding.handler.HealthCheck(ctx))
	}
	return out
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.deps.Store.NextPending(ctx)
		if err != nil {
			m.setLastError(err)
			m.logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_fetch_failed"),
			)
			m.sleep(ctx, m.errorRetry)
			continue
		}
		if job == nil {
			m.sleep(ctx, m.pollInterval)
			continue
		}

		if err := m.processJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func secondsOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func minutesOrDefault(minutes int, fallback time.Duration) time.Duration {
	if minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}
