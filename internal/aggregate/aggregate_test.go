package aggregate

import (
	"errors"
	"testing"
	"time"

	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

func testRubric() rubric.Rubric {
	return rubric.Rubric{
		Criteria: []rubric.Criterion{
			{Name: "technicality", Weight: 50},
			{Name: "originality", Weight: 50},
		},
		ScaleMin: 1,
		ScaleMax: 10,
	}
}

func testArtifacts(n int) []media.Artifact {
	out := make([]media.Artifact, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, media.NewArtifact(media.KindFrame, i, time.Duration(i)*time.Second, time.Duration(i)*time.Second, "image/jpeg", []byte{byte(i)}))
	}
	return out
}

func judgmentResponse(ordinal int, provider string, tech, orig float64) providers.Response {
	return providers.Response{
		ArtifactOrdinal: ordinal,
		ProviderID:      provider,
		Judgment: &providers.Judgment{
			Scores:     map[string]float64{"technicality": tech, "originality": orig},
			Confidence: 0.8,
		},
	}
}

func errorResponse(ordinal int, provider string, err error) providers.Response {
	return providers.Response{ArtifactOrdinal: ordinal, ProviderID: provider, Err: err}
}

func baseInput(artifacts []media.Artifact, responses []providers.Response) Input {
	return Input{
		JobID:            "job-1",
		SourceRef:        "https://example.com/v/1",
		Fingerprint:      "fp-1",
		Rubric:           testRubric(),
		Artifacts:        artifacts,
		Responses:        responses,
		DisputeThreshold: 3,
	}
}

func TestAggregateEntryPerArtifact(t *testing.T) {
	artifacts := testArtifacts(3)
	responses := []providers.Response{
		judgmentResponse(0, "openai", 8, 6),
		judgmentResponse(1, "openai", 7, 7),
		// artifact 2 never judged
	}

	report, err := Aggregate(baseInput(artifacts, responses))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(report.Artifacts) != len(artifacts) {
		t.Fatalf("report has %d entries, want %d", len(report.Artifacts), len(artifacts))
	}
	if !report.Artifacts[2].Unanalyzed {
		t.Error("expected artifact 2 marked unanalyzed")
	}
	if report.Summary.AnalyzedArtifacts != 2 || report.Summary.UnanalyzedArtifacts != 1 {
		t.Errorf("summary counts: %+v", report.Summary)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	artifacts := testArtifacts(2)
	responses := []providers.Response{
		judgmentResponse(0, "openai", 8, 6),
		judgmentResponse(0, "openrouter", 7, 7),
		judgmentResponse(1, "openrouter", 5, 5),
		judgmentResponse(1, "openai", 6, 4),
	}

	first, err := Aggregate(baseInput(artifacts, responses))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	// Reverse the response order; the report must not change.
	reversed := make([]providers.Response, 0, len(responses))
	for i := len(responses) - 1; i >= 0; i-- {
		reversed = append(reversed, responses[i])
	}
	second, err := Aggregate(baseInput(artifacts, reversed))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if first.Hash == "" || first.Hash != second.Hash {
		t.Errorf("hashes differ: %q vs %q", first.Hash, second.Hash)
	}
}

func TestAggregateWeightedConsensus(t *testing.T) {
	artifacts := testArtifacts(1)
	responses := []providers.Response{
		judgmentResponse(0, "openai", 10, 10),
		judgmentResponse(0, "openrouter", 5, 5),
	}
	in := baseInput(artifacts, responses)
	in.ProviderWeights = map[string]float64{"openai": 3, "openrouter": 1}

	report, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	// (10*3 + 5*1) / 4 = 8.75 per criterion.
	if got := report.Artifacts[0].Consensus["technicality"]; got != 8.75 {
		t.Errorf("consensus technicality = %v, want 8.75", got)
	}
	// Totals: 100 and 50 -> (100*3 + 50*1)/4 = 87.5.
	if got := report.Artifacts[0].Score; got != 87.5 {
		t.Errorf("artifact score = %v, want 87.5", got)
	}
}

func TestAggregateDisputeFlag(t *testing.T) {
	artifacts := testArtifacts(2)
	responses := []providers.Response{
		// Spread 5 points on a 10 scale: disputed at threshold 3.
		judgmentResponse(0, "openai", 10, 10),
		judgmentResponse(0, "openrouter", 5, 5),
		// Spread 1 point: agreed.
		judgmentResponse(1, "openai", 7, 7),
		judgmentResponse(1, "openrouter", 6, 6),
	}

	report, err := Aggregate(baseInput(artifacts, responses))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !report.Artifacts[0].Disputed {
		t.Error("expected artifact 0 disputed")
	}
	if report.Artifacts[1].Disputed {
		t.Error("expected artifact 1 agreed")
	}
	if report.Summary.DisputedArtifacts != 1 {
		t.Errorf("disputed count = %d", report.Summary.DisputedArtifacts)
	}
}

func TestAggregateSingleProviderNeverDisputed(t *testing.T) {
	report, err := Aggregate(baseInput(testArtifacts(1), []providers.Response{
		judgmentResponse(0, "openai", 10, 1),
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Artifacts[0].Disputed {
		t.Error("single provider cannot dispute itself")
	}
}

func TestAggregateProviderFailuresRecorded(t *testing.T) {
	quota := services.Wrap(services.ErrQuotaExceeded, "analyzing", "openrouter", "quota", nil)
	report, err := Aggregate(baseInput(testArtifacts(1), []providers.Response{
		judgmentResponse(0, "openai", 8, 8),
		errorResponse(0, "openrouter", quota),
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	entry := report.Artifacts[0]
	if entry.Unanalyzed {
		t.Error("artifact with one good judgment must count as analyzed")
	}
	if len(entry.Judgments) != 2 {
		t.Fatalf("got %d judgments, want 2", len(entry.Judgments))
	}
	var foundErr bool
	for _, j := range entry.Judgments {
		if j.ProviderID == "openrouter" && j.Err != "" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Error("expected openrouter failure recorded in entry")
	}
	if len(report.Summary.ProvidersFailed) != 1 || report.Summary.ProvidersFailed[0] != "openrouter" {
		t.Errorf("providers failed = %v", report.Summary.ProvidersFailed)
	}
	if len(report.Summary.ProvidersUsed) != 1 || report.Summary.ProvidersUsed[0] != "openai" {
		t.Errorf("providers used = %v", report.Summary.ProvidersUsed)
	}
}

func TestAggregateSummaryScoreBounds(t *testing.T) {
	report, err := Aggregate(baseInput(testArtifacts(2), []providers.Response{
		judgmentResponse(0, "openai", 10, 10),
		judgmentResponse(1, "openai", 10, 10),
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Summary.Score != 100 {
		t.Errorf("summary score = %v, want 100", report.Summary.Score)
	}
}

func TestAggregateNoArtifacts(t *testing.T) {
	_, err := Aggregate(baseInput(nil, nil))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHashExcludesReceipt(t *testing.T) {
	report, err := Aggregate(baseInput(testArtifacts(1), []providers.Response{
		judgmentResponse(0, "openai", 8, 8),
	}))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	before := report.Hash
	report.Receipt = &Receipt{TransactionID: "tx-1", Endpoint: "https://ledger", CommittedAt: "2026-01-01T00:00:00Z"}
	after, err := HashReport(report)
	if err != nil {
		t.Fatalf("HashReport: %v", err)
	}
	if before != after {
		t.Error("receipt must not affect the report hash")
	}
}
