package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"arbiter/internal/api"
	"arbiter/internal/config"
	"arbiter/internal/deps"
	"arbiter/internal/jobs"
	"arbiter/internal/logging"
	"arbiter/internal/pipeline"
)

// Daemon coordinates the pipeline manager and the HTTP API, and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *jobs.Store
	manager *pipeline.Manager

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, manager *pipeline.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and pipeline manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.DataDir, "arbiter.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, then launches the pipeline and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another arbiter daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		d.manager.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("arbiter daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts down background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("arbiter daemon stopped")
}

// Close stops the daemon and releases the job store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address, or empty before Start.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Submit enqueues a new analysis job, filling defaults from configuration.
func (d *Daemon) Submit(ctx context.Context, req api.SubmitRequest) (*jobs.Job, error) {
	providers := req.Providers
	if len(providers) == 0 {
		providers = d.cfg.EnabledProviders()
	}
	if len(providers) == 0 {
		return nil, errors.New("no judge providers enabled; configure at least one provider")
	}
	density := req.Density
	if density <= 0 {
		density = 2
	}
	job, err := d.store.Create(ctx, jobs.NewJobParams{
		SourceRef:        req.SourceRef,
		Density:          density,
		Providers:        providers,
		CommitProvenance: req.CommitProvenance,
		Description:      req.Description,
		RepoURL:          req.RepoURL,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("source_ref", job.SourceRef),
	)
	return job, nil
}

// Cancel flags a job for cancellation and returns its current state.
func (d *Daemon) Cancel(ctx context.Context, id string) (*jobs.Job, error) {
	if err := d.store.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	return d.store.GetByID(ctx, id)
}

// Events exposes the pipeline event hub.
func (d *Daemon) Events() *pipeline.Hub {
	return d.manager.Events()
}

// Requirements lists the external binaries the daemon shells out to.
func Requirements(cfg *config.Config) []deps.Requirement {
	return []deps.Requirement{
		{Name: "yt-dlp", Command: cfg.Retriever.YtDlpBinary, Description: "media download"},
		{Name: "ffmpeg", Command: cfg.Extractor.FFmpegBinary, Description: "frame and audio extraction"},
		{Name: "ffprobe", Command: cfg.Extractor.FFprobeBinary, Description: "media inspection"},
	}
}

// Status reports current daemon diagnostics.
func (d *Daemon) Status(ctx context.Context) api.StatusResponse {
	resp := api.StatusResponse{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}

	if summary, err := d.store.Health(ctx); err == nil {
		resp.Queue = api.QueueCounts{
			Total:      summary.Total,
			Pending:    summary.Pending,
			Processing: summary.Processing,
			Completed:  summary.Completed,
			Failed:     summary.Failed,
		}
	} else {
		resp.LastError = err.Error()
	}

	for _, health := range d.manager.Health(ctx) {
		resp.Stages = append(resp.Stages, api.StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}
	for _, status := range deps.CheckBinaries(Requirements(d.cfg)) {
		resp.Dependencies = append(resp.Dependencies, api.DependencyStatus{
			Name:        status.Name,
			Command:     status.Command,
			Description: status.Description,
			Optional:    status.Optional,
			Available:   status.Available,
			Detail:      status.Detail,
		})
	}
	if resp.LastError == "" {
		if err := d.manager.LastError(); err != nil {
			resp.LastError = err.Error()
		}
	}
	return resp
}
