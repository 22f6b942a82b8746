package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"arbiter/internal/api"
	"arbiter/internal/config"
	"arbiter/internal/jobs"
	"arbiter/internal/logging"
	"arbiter/internal/pipeline"
)

const defaultWaitTimeout = 10 * time.Minute

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.APIBind)
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	token := strings.TrimSpace(cfg.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJobItem))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Synchronous submissions hold the response open until the job
		// terminates, so the write timeout must outlast the wait window.
		WriteTimeout: defaultWaitTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleJobList(w, r)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleJobList(w http.ResponseWriter, r *http.Request) {
	all, err := s.daemon.store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	statusFilter := map[jobs.Status]struct{}{}
	for _, value := range r.URL.Query()["status"] {
		if status, ok := jobs.ParseStatus(value); ok {
			statusFilter[status] = struct{}{}
		}
	}

	views := make([]api.JobView, 0, len(all))
	for _, job := range all {
		if len(statusFilter) > 0 {
			if _, ok := statusFilter[job.Status]; !ok {
				continue
			}
		}
		views = append(views, api.FromJob(job))
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Subscribe before the job is created so no terminal event is missed
	// between insert and wait.
	var (
		events      <-chan pipeline.Event
		unsubscribe func()
	)
	if req.Wait {
		events, unsubscribe = s.daemon.Events().Subscribe("")
		defer unsubscribe()
	}

	job, err := s.daemon.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !req.Wait {
		s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
		return
	}

	waitTimeout := defaultWaitTimeout
	if req.WaitTimeoutSeconds > 0 {
		waitTimeout = time.Duration(req.WaitTimeoutSeconds) * time.Second
	}
	final, err := s.waitTerminal(r.Context(), job.ID, events, waitTimeout)
	if err != nil {
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(final)})
}

func (s *apiServer) waitTerminal(ctx context.Context, jobID string, events <-chan pipeline.Event, timeout time.Duration) (*jobs.Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil, errors.New("event stream closed")
			}
			if event.JobID == jobID && event.Terminal {
				return s.daemon.store.GetByID(ctx, jobID)
			}
		case <-deadline.C:
			return nil, fmt.Errorf("job %s did not finish within %s", jobID, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *apiServer) handleJobItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleJobGet(w, r, id)
	case action == "report" && r.Method == http.MethodGet:
		s.handleJobReport(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleJobCancel(w, r, id)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleJobGet(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) handleJobReport(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.daemon.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	if job.ReportJSON == "" {
		// Terminal without a report means the job will never produce one;
		// non-terminal means it just has not finished yet.
		if job.Status.IsTerminal() {
			s.writeJSON(w, http.StatusUnprocessableEntity, api.ErrorResponse{
				Error:      fmt.Sprintf("job %s produced no report (status %s)", id, job.Status),
				ReasonCode: job.ReasonCode,
			})
			return
		}
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job %s has no report yet (status %s)", id, job.Status))
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReportResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		Report: json.RawMessage(job.ReportJSON),
	})
}

func (s *apiServer) handleJobCancel(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.daemon.Cancel(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (s *apiServer) writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
