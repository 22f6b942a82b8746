package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for inconsistencies that would break the
// pipeline at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if c.Retriever.MaxSizeMiB <= 0 {
		return errors.New("retriever.max_size_mib must be positive")
	}
	if c.Retriever.MaxDurationMinutes <= 0 {
		return errors.New("retriever.max_duration_minutes must be positive")
	}
	if c.Extractor.AudioChunkSeconds <= 0 {
		return errors.New("extractor.audio_chunk_seconds must be positive")
	}
	if c.Extractor.MaxDensity <= 0 {
		return errors.New("extractor.max_density must be positive")
	}

	for id, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("providers.%s.api_key required when enabled", id)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers.%s.model required when enabled", id)
		}
		if p.Weight <= 0 {
			return fmt.Errorf("providers.%s.weight must be positive", id)
		}
	}

	if c.Aggregation.ScaleMax <= c.Aggregation.ScaleMin {
		return errors.New("aggregation.scale_max must exceed aggregation.scale_min")
	}
	var totalWeight float64
	for i, crit := range c.Aggregation.Criteria {
		if strings.TrimSpace(crit.Name) == "" {
			return fmt.Errorf("aggregation.criteria[%d].name must not be empty", i)
		}
		if crit.Weight <= 0 {
			return fmt.Errorf("aggregation.criteria[%d].weight must be positive", i)
		}
		totalWeight += crit.Weight
	}
	if len(c.Aggregation.Criteria) > 0 && totalWeight <= 0 {
		return errors.New("aggregation.criteria weights must sum to a positive value")
	}

	if c.Ledger.Enabled && strings.TrimSpace(c.Ledger.Endpoint) == "" {
		return errors.New("ledger.endpoint required when ledger is enabled")
	}
	return nil
}
