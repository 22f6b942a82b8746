package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an analysis job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRetrieving  Status = "retrieving"
	StatusRetrieved   Status = "retrieved"
	StatusExtracting  Status = "extracting"
	StatusExtracted   Status = "extracted"
	StatusAnalyzing   Status = "analyzing"
	StatusAnalyzed    Status = "analyzed"
	StatusAggregating Status = "aggregating"
	StatusAggregated  Status = "aggregated"
	StatusCommitting  Status = "committing"
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRetrieving,
	StatusRetrieved,
	StatusExtracting,
	StatusExtracted,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusAggregating,
	StatusAggregated,
	StatusCommitting,
	StatusCompleted,
	StatusPartial,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// statusRank orders forward progress. Transitions must move strictly forward;
// the terminal failure states are reachable from anywhere non-terminal.
var statusRank = func() map[Status]int {
	rank := make(map[Status]int, len(allStatuses))
	for i, status := range allStatuses {
		rank[status] = i
	}
	return rank
}()

var processingStatuses = map[Status]struct{}{
	StatusRetrieving:  {},
	StatusExtracting:  {},
	StatusAnalyzing:   {},
	StatusAggregating: {},
	StatusCommitting:  {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusPartial:   {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// statusPercent maps each state to the coarse percent-complete surfaced to callers.
var statusPercent = map[Status]float64{
	StatusPending:     0,
	StatusRetrieving:  10,
	StatusRetrieved:   25,
	StatusExtracting:  30,
	StatusExtracted:   45,
	StatusAnalyzing:   50,
	StatusAnalyzed:    80,
	StatusAggregating: 85,
	StatusAggregated:  90,
	StatusCommitting:  95,
	StatusCompleted:   100,
	StatusPartial:     100,
	StatusFailed:      100,
	StatusCancelled:   100,
}

// Job represents one analysis request persisted in SQLite. Only the pipeline
// orchestrator mutates it, and only through status transitions and progress
// updates.
type Job struct {
	ID               string
	SourceRef        string
	Density          int
	Providers        []string
	CommitProvenance bool
	Description      string
	RepoURL          string

	Status       Status
	ErrorMessage string
	ReasonCode   string

	ProgressPercent float64
	ProgressMessage string
	Warnings        []string

	ReportJSON      string
	CancelRequested bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsProcessing reports whether the status reflects an in-flight stage.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// Percent returns the coarse completion percentage for a status.
func (s Status) Percent() float64 {
	return statusPercent[s]
}

// CanTransition reports whether moving from s to next respects the
// one-directional state machine.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// AddWarning appends a warning, skipping duplicates.
func (j *Job) AddWarning(warning string) {
	warning = strings.TrimSpace(warning)
	if warning == "" {
		return
	}
	for _, existing := range j.Warnings {
		if existing == warning {
			return
		}
	}
	j.Warnings = append(j.Warnings, warning)
}

// SetFailed marks the job failed with a message and machine-readable reason.
func (j *Job) SetFailed(reasonCode, message string) {
	j.Status = StatusFailed
	j.ReasonCode = reasonCode
	j.ErrorMessage = message
	j.ProgressPercent = StatusFailed.Percent()
	j.ProgressMessage = message
}

// SetProgress updates the progress fields together.
func (j *Job) SetProgress(percent float64, message string) {
	j.ProgressPercent = percent
	j.ProgressMessage = message
}
