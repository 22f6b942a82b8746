package rubric

import (
	"strings"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/media"
)

func testRubric() Rubric {
	return FromConfig(config.Aggregation{
		ScaleMin: 1,
		ScaleMax: 10,
		Criteria: []config.RubricCriterion{
			{Name: "Innovation", Weight: 30, Description: "novelty"},
			{Name: "Technical", Weight: 30, Description: "engineering"},
			{Name: "Impact", Weight: 20, Description: "usefulness"},
			{Name: "Presentation", Weight: 20, Description: "clarity"},
		},
	})
}

func TestWeightedTotal(t *testing.T) {
	r := testRubric()
	scores := map[string]float64{
		"Innovation":   8,
		"Technical":    7,
		"Impact":       9,
		"Presentation": 6,
	}
	// (8*30 + 7*30 + 9*20 + 6*20) / (10*100) * 100 = 75.0
	if got := r.WeightedTotal(scores); got != 75.0 {
		t.Errorf("WeightedTotal = %v, want 75.0", got)
	}
}

func TestWeightedTotalMissingCriterionCountsZero(t *testing.T) {
	r := testRubric()
	scores := map[string]float64{"Innovation": 10}
	// 10*30 / 1000 * 100 = 30.0
	if got := r.WeightedTotal(scores); got != 30.0 {
		t.Errorf("WeightedTotal = %v, want 30.0", got)
	}
}

func TestWeightedTotalClampsToScale(t *testing.T) {
	r := testRubric()
	scores := map[string]float64{
		"Innovation":   99,
		"Technical":    10,
		"Impact":       10,
		"Presentation": 10,
	}
	if got := r.WeightedTotal(scores); got != 100.0 {
		t.Errorf("WeightedTotal = %v, want 100.0", got)
	}
}

func TestMatchesCriteria(t *testing.T) {
	r := testRubric()
	full := map[string]float64{"Innovation": 1, "Technical": 1, "Impact": 1, "Presentation": 1}
	if !r.MatchesCriteria(full) {
		t.Error("expected full score map to match")
	}
	partial := map[string]float64{"Innovation": 1}
	if r.MatchesCriteria(partial) {
		t.Error("expected partial score map to mismatch")
	}
	renamed := map[string]float64{"Innovation": 1, "Technical": 1, "Impact": 1, "Polish": 1}
	if r.MatchesCriteria(renamed) {
		t.Error("expected renamed criterion to mismatch")
	}
}

func TestValidate(t *testing.T) {
	r := testRubric()
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r.ScaleMax = r.ScaleMin
	if err := r.Validate(); err == nil {
		t.Error("expected scale validation error")
	}
}

func TestRenderUserPromptDeterministic(t *testing.T) {
	r := testRubric()
	artifact := media.NewArtifact(media.KindText, 3, 2*time.Minute, 3*time.Minute, "text/plain", []byte("we built a thing"))
	pctx := PromptContext{Description: "demo video", ReadmeText: "## Setup"}

	first := r.RenderUserPrompt(artifact, pctx)
	second := r.RenderUserPrompt(artifact, pctx)
	if first != second {
		t.Fatal("prompt rendering must be deterministic")
	}
	for _, want := range []string{"we built a thing", "Innovation", "\"scores\"", "demo video"} {
		if !strings.Contains(first, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRenderUserPromptCapsReadme(t *testing.T) {
	r := testRubric()
	artifact := media.NewArtifact(media.KindText, 0, 0, time.Minute, "text/plain", []byte("x"))
	long := strings.Repeat("a", readmeByteCap*2)
	prompt := r.RenderUserPrompt(artifact, PromptContext{ReadmeText: long})
	if strings.Contains(prompt, long) {
		t.Error("expected readme to be truncated")
	}
}
