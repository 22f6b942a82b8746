package stage

import (
	"context"

	"arbiter/internal/aggregate"
	"arbiter/internal/jobs"
	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/rubric"
)

// Execution carries the in-flight state of one job through the stage chain.
// It lives only for the duration of a single pipeline pass; everything a
// restart needs survives on the Job itself.
type Execution struct {
	Job *jobs.Job

	// Fingerprint of (source, extraction parameters), set by retrieve.
	Fingerprint string

	// Raw media on local disk. Release frees the temp storage; it is nil
	// when the artifacts came from cache.
	Raw     *media.RawMedia
	Release func()

	// Artifacts in ordinal order, set by extract (or the cache).
	Artifacts  []media.Artifact
	FromCache  bool

	// Prompt context assembled for analysis.
	PromptContext rubric.PromptContext

	// Per-(artifact, provider) outcomes, set by analyze.
	Responses []providers.Response

	// Final report, set by aggregate.
	Report *aggregate.Report
}

// Cleanup releases any temp storage held by the execution. Safe to call more
// than once.
func (e *Execution) Cleanup() {
	if e.Release != nil {
		e.Release()
		e.Release = nil
	}
}

// Handler describes the contract the pipeline manager needs from each stage.
type Handler interface {
	Name() string
	Execute(context.Context, *Execution) error
	HealthCheck(context.Context) Health
}
