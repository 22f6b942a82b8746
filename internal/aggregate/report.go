package aggregate

import (
	"time"

	"arbiter/internal/rubric"
)

// ProviderJudgment is one provider's verdict for one artifact as it appears
// in the report. Err is set when the provider failed for this artifact.
type ProviderJudgment struct {
	ProviderID    string             `json:"provider_id"`
	Scores        map[string]float64 `json:"scores,omitempty"`
	Rationales    map[string]string  `json:"rationales,omitempty"`
	Feedback      string             `json:"feedback,omitempty"`
	Confidence    float64            `json:"confidence,omitempty"`
	WeightedTotal float64            `json:"weighted_total"`
	Err           string             `json:"error,omitempty"`
}

// ArtifactEntry is the per-artifact section of the report. The report always
// contains exactly one entry per extracted artifact; artifacts no provider
// judged are marked unanalyzed rather than dropped.
type ArtifactEntry struct {
	Ordinal    int           `json:"ordinal"`
	Kind       string        `json:"kind"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Digest     string        `json:"digest"`
	Judgments  []ProviderJudgment `json:"judgments"`
	Consensus  map[string]float64 `json:"consensus,omitempty"`
	Score      float64            `json:"score"`
	Divergence float64            `json:"divergence"`
	Disputed   bool               `json:"disputed"`
	Unanalyzed bool               `json:"unanalyzed"`
}

// Summary folds the artifact entries into headline numbers.
type Summary struct {
	Score               float64            `json:"score"`
	PerCriterion        map[string]float64 `json:"per_criterion"`
	AnalyzedArtifacts   int                `json:"analyzed_artifacts"`
	UnanalyzedArtifacts int                `json:"unanalyzed_artifacts"`
	DisputedArtifacts   int                `json:"disputed_artifacts"`
	ProvidersUsed       []string           `json:"providers_used"`
	ProvidersFailed     []string           `json:"providers_failed,omitempty"`
}

// Receipt records a successful provenance commit.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	Endpoint      string `json:"endpoint"`
	CommittedAt   string `json:"committed_at"`
}

// Report is the final output of a job. Hash covers every field except itself
// and the provenance receipt, which is attached after hashing.
type Report struct {
	JobID       string          `json:"job_id"`
	SourceRef   string          `json:"source_ref"`
	Fingerprint string          `json:"fingerprint"`
	Rubric      rubric.Rubric   `json:"rubric"`
	Artifacts   []ArtifactEntry `json:"artifacts"`
	Summary     Summary         `json:"summary"`
	Warnings    []string        `json:"warnings,omitempty"`
	Receipt     *Receipt        `json:"receipt,omitempty"`
	Hash        string          `json:"hash"`
}
