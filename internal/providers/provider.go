package providers

import (
	"context"
	"strings"

	"arbiter/internal/media"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

// Request is one artifact judgment submitted to a provider.
type Request struct {
	Artifact     media.Artifact
	SystemPrompt string
	UserPrompt   string
}

// Judgment is the structured verdict a provider returns for one artifact.
type Judgment struct {
	Scores     map[string]float64 `json:"scores"`
	Rationales map[string]string  `json:"rationales"`
	Feedback   string             `json:"feedback"`
	Confidence float64            `json:"confidence"`
	Raw        string             `json:"-"`
}

// Response pairs an artifact with one provider's outcome. Exactly one of
// Judgment and Err is set.
type Response struct {
	ArtifactOrdinal int
	ArtifactDigest  string
	ProviderID      string
	Judgment        *Judgment
	Err             error
}

// Provider submits a single judgment request without retrying; the gateway
// owns retry, throttling, and disqualification policy. Implementations
// classify failures with the services sentinels.
type Provider interface {
	ID() string
	Judge(ctx context.Context, req Request) (Judgment, error)
}

// DecodeJudgment parses a model's JSON payload into a Judgment and checks it
// against the rubric. Any shape problem maps to ErrMalformedResponse so the
// gateway can retry it.
func DecodeJudgment(providerID, content string, r rubric.Rubric) (Judgment, error) {
	var judgment Judgment
	if err := DecodeModelJSON(content, &judgment); err != nil {
		return judgment, services.Wrap(services.ErrMalformedResponse, "analyzing", providerID, "parse judgment payload", err)
	}
	if len(judgment.Scores) == 0 {
		return judgment, services.Wrap(services.ErrMalformedResponse, "analyzing", providerID, "judgment contains no scores", nil)
	}
	if !r.MatchesCriteria(judgment.Scores) {
		return judgment, services.Wrap(services.ErrMalformedResponse, "analyzing", providerID, "judgment scores unknown criteria", nil)
	}
	judgment.Feedback = strings.TrimSpace(judgment.Feedback)
	if judgment.Confidence < 0 {
		judgment.Confidence = 0
	}
	if judgment.Confidence > 1 {
		judgment.Confidence = 1
	}
	judgment.Raw = content
	return judgment, nil
}
