package rubric

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"arbiter/internal/config"
)

// Criterion is one judged dimension with a relative weight.
type Criterion struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Rubric describes how providers score an artifact.
type Rubric struct {
	Criteria []Criterion `json:"criteria"`
	ScaleMin float64     `json:"scale_min"`
	ScaleMax float64     `json:"scale_max"`
}

// FromConfig builds a rubric from the aggregation config section.
func FromConfig(agg config.Aggregation) Rubric {
	criteria := make([]Criterion, 0, len(agg.Criteria))
	for _, c := range agg.Criteria {
		criteria = append(criteria, Criterion{
			Name:        strings.TrimSpace(c.Name),
			Weight:      c.Weight,
			Description: strings.TrimSpace(c.Description),
		})
	}
	return Rubric{Criteria: criteria, ScaleMin: agg.ScaleMin, ScaleMax: agg.ScaleMax}
}

// Validate checks the rubric is usable for scoring.
func (r Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return errors.New("rubric: at least one criterion required")
	}
	if r.ScaleMax <= r.ScaleMin {
		return fmt.Errorf("rubric: scale max %.1f must exceed min %.1f", r.ScaleMax, r.ScaleMin)
	}
	for i, c := range r.Criteria {
		if c.Name == "" {
			return fmt.Errorf("rubric: criterion %d has no name", i)
		}
		if c.Weight <= 0 {
			return fmt.Errorf("rubric: criterion %q has non-positive weight", c.Name)
		}
	}
	return nil
}

// CriterionNames returns criterion names in declaration order.
func (r Rubric) CriterionNames() []string {
	names := make([]string, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		names = append(names, c.Name)
	}
	return names
}

// WeightedTotal folds per-criterion scores into a single 0-100 value. Missing
// criteria count as zero; scores are clamped to the rubric scale first.
func (r Rubric) WeightedTotal(scores map[string]float64) float64 {
	var totalWeight float64
	for _, c := range r.Criteria {
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0
	}
	maxPossible := r.ScaleMax * totalWeight
	if maxPossible == 0 {
		return 0
	}

	var total float64
	for _, c := range r.Criteria {
		score := clamp(scores[c.Name], r.ScaleMin, r.ScaleMax)
		if _, ok := scores[c.Name]; !ok {
			score = 0
		}
		total += score * c.Weight
	}
	return math.Round(total/maxPossible*10000) / 100
}

// MatchesCriteria reports whether the score map keys exactly cover the rubric.
func (r Rubric) MatchesCriteria(scores map[string]float64) bool {
	if len(scores) != len(r.Criteria) {
		return false
	}
	for _, c := range r.Criteria {
		if _, ok := scores[c.Name]; !ok {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
