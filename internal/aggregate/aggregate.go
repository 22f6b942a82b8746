package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"arbiter/internal/media"
	"arbiter/internal/providers"
	"arbiter/internal/rubric"
	"arbiter/internal/services"
)

// Input carries everything Aggregate needs. Aggregate is a pure function of
// this value: identical inputs always produce byte-identical reports.
type Input struct {
	JobID       string
	SourceRef   string
	Fingerprint string
	Rubric      rubric.Rubric
	Artifacts   []media.Artifact
	Responses   []providers.Response

	// ProviderWeights biases consensus; missing providers weigh 1.
	ProviderWeights map[string]float64

	// DisputeThreshold is the max allowed spread between provider totals for
	// one artifact before it is flagged disputed.
	DisputeThreshold float64

	Warnings []string
}

// Aggregate folds provider responses into the final report.
func Aggregate(in Input) (*Report, error) {
	if len(in.Artifacts) == 0 {
		return nil, services.Wrap(services.ErrValidation, "aggregating", "aggregate", "no artifacts to aggregate", nil)
	}
	if err := in.Rubric.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "aggregating", "aggregate", "invalid rubric", err)
	}

	byOrdinal := make(map[int][]providers.Response)
	providerOutcomes := make(map[string]*providerOutcome)
	for _, resp := range in.Responses {
		byOrdinal[resp.ArtifactOrdinal] = append(byOrdinal[resp.ArtifactOrdinal], resp)
		outcome := providerOutcomes[resp.ProviderID]
		if outcome == nil {
			outcome = &providerOutcome{}
			providerOutcomes[resp.ProviderID] = outcome
		}
		if resp.Err != nil {
			outcome.failures++
		} else {
			outcome.successes++
		}
	}

	report := &Report{
		JobID:       in.JobID,
		SourceRef:   in.SourceRef,
		Fingerprint: in.Fingerprint,
		Rubric:      in.Rubric,
		Warnings:    append([]string(nil), in.Warnings...),
	}

	var (
		scoreSum     float64
		perCriterion = make(map[string]float64)
		perCritWeight float64
	)
	for _, artifact := range in.Artifacts {
		entry := buildEntry(in, artifact, byOrdinal[artifact.Ordinal])
		report.Artifacts = append(report.Artifacts, entry)
		if entry.Unanalyzed {
			report.Summary.UnanalyzedArtifacts++
			continue
		}
		report.Summary.AnalyzedArtifacts++
		if entry.Disputed {
			report.Summary.DisputedArtifacts++
		}
		scoreSum += entry.Score
		for name, value := range entry.Consensus {
			perCriterion[name] += value
		}
		perCritWeight++
	}

	if report.Summary.AnalyzedArtifacts > 0 {
		report.Summary.Score = round2(scoreSum / float64(report.Summary.AnalyzedArtifacts))
	}
	if perCritWeight > 0 {
		report.Summary.PerCriterion = make(map[string]float64, len(perCriterion))
		for name, total := range perCriterion {
			report.Summary.PerCriterion[name] = round2(total / perCritWeight)
		}
	}
	report.Summary.ProvidersUsed, report.Summary.ProvidersFailed = summarizeProviders(providerOutcomes)

	hash, err := HashReport(report)
	if err != nil {
		return nil, err
	}
	report.Hash = hash
	return report, nil
}

type providerOutcome struct {
	successes int
	failures  int
}

// summarizeProviders splits providers into those that contributed at least
// one judgment and those that produced nothing but failures.
func summarizeProviders(outcomes map[string]*providerOutcome) (used, failed []string) {
	for id, outcome := range outcomes {
		if outcome.successes > 0 {
			used = append(used, id)
		} else if outcome.failures > 0 {
			failed = append(failed, id)
		}
	}
	sort.Strings(used)
	sort.Strings(failed)
	return used, failed
}

func buildEntry(in Input, artifact media.Artifact, responses []providers.Response) ArtifactEntry {
	entry := ArtifactEntry{
		Ordinal: artifact.Ordinal,
		Kind:    string(artifact.Kind),
		Start:   artifact.Start,
		End:     artifact.End,
		Digest:  artifact.Digest,
	}

	// Deterministic ordering regardless of gateway completion order.
	sort.Slice(responses, func(i, j int) bool {
		return responses[i].ProviderID < responses[j].ProviderID
	})

	var (
		totals       []weightedTotal
		consensusSum = make(map[string]float64)
		weightSum    float64
	)
	for _, resp := range responses {
		pj := ProviderJudgment{ProviderID: resp.ProviderID}
		if resp.Err != nil {
			pj.Err = resp.Err.Error()
			entry.Judgments = append(entry.Judgments, pj)
			continue
		}
		judgment := resp.Judgment
		pj.Scores = judgment.Scores
		pj.Rationales = judgment.Rationales
		pj.Feedback = judgment.Feedback
		pj.Confidence = judgment.Confidence
		pj.WeightedTotal = in.Rubric.WeightedTotal(judgment.Scores)
		entry.Judgments = append(entry.Judgments, pj)

		weight := providerWeight(in.ProviderWeights, resp.ProviderID)
		totals = append(totals, weightedTotal{total: pj.WeightedTotal, weight: weight})
		for name, score := range judgment.Scores {
			consensusSum[name] += score * weight
		}
		weightSum += weight
	}

	if len(totals) == 0 {
		entry.Unanalyzed = true
		return entry
	}

	entry.Consensus = make(map[string]float64, len(consensusSum))
	for name, sum := range consensusSum {
		entry.Consensus[name] = round2(sum / weightSum)
	}

	var scoreSum, minTotal, maxTotal float64
	minTotal = math.Inf(1)
	maxTotal = math.Inf(-1)
	for _, wt := range totals {
		scoreSum += wt.total * wt.weight
		minTotal = math.Min(minTotal, wt.total)
		maxTotal = math.Max(maxTotal, wt.total)
	}
	entry.Score = round2(scoreSum / weightSum)
	entry.Divergence = round2(maxTotal - minTotal)
	if len(totals) > 1 && in.DisputeThreshold > 0 && in.Rubric.ScaleMax > 0 {
		// Divergence is measured on the 0-100 total; the threshold is
		// configured on the rubric scale, so project it the same way
		// WeightedTotal normalizes scores.
		entry.Disputed = entry.Divergence > in.DisputeThreshold/in.Rubric.ScaleMax*100
	}
	return entry
}

type weightedTotal struct {
	total  float64
	weight float64
}

func providerWeight(weights map[string]float64, id string) float64 {
	if w, ok := weights[id]; ok && w > 0 {
		return w
	}
	return 1
}

// HashReport computes the canonical content hash: sha256 over the report's
// JSON encoding with the hash and receipt fields cleared.
func HashReport(report *Report) (string, error) {
	clone := *report
	clone.Hash = ""
	clone.Receipt = nil
	encoded, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("encode report for hashing: %w", err)
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:]), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
