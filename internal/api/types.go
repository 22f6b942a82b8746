package api

import (
	"encoding/json"
	"time"

	"arbiter/internal/jobs"
)

// SubmitRequest is the payload for POST /api/jobs.
type SubmitRequest struct {
	SourceRef        string   `json:"source_ref"`
	Density          int      `json:"density,omitempty"`
	Providers        []string `json:"providers,omitempty"`
	CommitProvenance bool     `json:"commit_provenance,omitempty"`
	Description      string   `json:"description,omitempty"`
	RepoURL          string   `json:"repo_url,omitempty"`

	// Wait blocks the response until the job reaches a terminal status or
	// WaitTimeoutSeconds elapses.
	Wait               bool `json:"wait,omitempty"`
	WaitTimeoutSeconds int  `json:"wait_timeout_seconds,omitempty"`
}

// JobView is the client-facing projection of a job.
type JobView struct {
	ID               string    `json:"id"`
	SourceRef        string    `json:"source_ref"`
	Density          int       `json:"density"`
	Providers        []string  `json:"providers"`
	CommitProvenance bool      `json:"commit_provenance"`
	Description      string    `json:"description,omitempty"`
	RepoURL          string    `json:"repo_url,omitempty"`
	Status           string    `json:"status"`
	ProgressPercent  float64   `json:"progress_percent"`
	ProgressMessage  string    `json:"progress_message,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ReasonCode       string    `json:"reason_code,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
	HasReport        bool      `json:"has_report"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FromJob converts a persisted job into its API projection.
func FromJob(job *jobs.Job) JobView {
	return JobView{
		ID:               job.ID,
		SourceRef:        job.SourceRef,
		Density:          job.Density,
		Providers:        job.Providers,
		CommitProvenance: job.CommitProvenance,
		Description:      job.Description,
		RepoURL:          job.RepoURL,
		Status:           string(job.Status),
		ProgressPercent:  job.ProgressPercent,
		ProgressMessage:  job.ProgressMessage,
		ErrorMessage:     job.ErrorMessage,
		ReasonCode:       job.ReasonCode,
		Warnings:         job.Warnings,
		HasReport:        job.ReportJSON != "",
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ReportResponse carries the stored report verbatim so its hash stays
// reproducible on the client side.
type ReportResponse struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Report json.RawMessage `json:"report"`
}

// DependencyStatus reports availability of one external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// StageHealth reports readiness of one pipeline stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// QueueCounts summarizes the job store by lifecycle bucket.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// StatusResponse is the payload for GET /api/status.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	JobDBPath    string             `json:"job_db_path"`
	LockFilePath string             `json:"lock_file_path"`
	Queue        QueueCounts        `json:"queue"`
	Stages       []StageHealth      `json:"stages,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// ErrorResponse is the body returned for non-2xx statuses. ReasonCode is set
// when the error reflects a terminal job outcome rather than a bad request.
type ErrorResponse struct {
	Error      string `json:"error"`
	ReasonCode string `json:"reason_code,omitempty"`
}
