package config

import (
	"os"
	"path/filepath"
)

// Default returns a configuration populated with working defaults.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".local", "share", "arbiter")

	cfg := &Config{
		Paths: Paths{
			DataDir: base,
			LogDir:  filepath.Join(base, "logs"),
			APIBind: "127.0.0.1:7461",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Retriever: Retriever{
			YtDlpBinary:        "yt-dlp",
			MaxSizeMiB:         512,
			MaxDurationMinutes: 30,
			RetryAttempts:      3,
			RetryBaseDelayMS:   500,
			RetryMaxDelayMS:    8000,
		},
		Extractor: Extractor{
			FFmpegBinary:      "ffmpeg",
			FFprobeBinary:     "ffprobe",
			AudioChunkSeconds: 60,
			MaxDensity:        30,
			Transcribe:        true,
		},
		Cache: Cache{
			Enabled:  true,
			Dir:      filepath.Join(home, ".cache", "arbiter", "artifacts"),
			MaxMiB:   2048,
			TTLHours: 72,
		},
		Providers: map[string]Provider{
			"openai": {
				Enabled:             false,
				BaseURL:             "https://api.openai.com/v1",
				Model:               "gpt-4o",
				Weight:              1,
				RequestsPerMinute:   30,
				MaxInFlight:         4,
				MaxQueueWaitSeconds: 60,
				RetryAttempts:       4,
				TimeoutSeconds:      60,
			},
			"openrouter": {
				Enabled:             false,
				BaseURL:             "https://openrouter.ai/api/v1/chat/completions",
				Model:               "deepseek/deepseek-chat-v3.1",
				Weight:              1,
				RequestsPerMinute:   20,
				MaxInFlight:         2,
				MaxQueueWaitSeconds: 60,
				RetryAttempts:       4,
				TimeoutSeconds:      60,
			},
		},
		Aggregation: Aggregation{
			DisputeThreshold: 3,
			ScaleMin:         1,
			ScaleMax:         10,
			Criteria:         DefaultCriteria(),
		},
		Ledger: Ledger{
			Enabled:        false,
			TimeoutSeconds: 30,
		},
		Workflow: Workflow{
			PollIntervalSeconds: 2,
			ErrorRetrySeconds:   5,
			JobTimeoutMinutes:   60,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
	}
	return cfg
}

// DefaultCriteria is the judging rubric applied when none is configured.
func DefaultCriteria() []RubricCriterion {
	return []RubricCriterion{
		{Name: "Innovation & Originality", Weight: 30, Description: "How novel or creative the presented work is."},
		{Name: "Technical Implementation", Weight: 30, Description: "The complexity and quality of the engineering shown."},
		{Name: "Impact & Usefulness", Weight: 20, Description: "Potential impact, usefulness, or value of the solution."},
		{Name: "Presentation & Communication", Weight: 20, Description: "Clarity and effectiveness of the demo in conveying the idea."},
	}
}

// applyDefaults fills zero values left after unmarshalling a partial config file.
func (c *Config) applyDefaults() {
	def := Default()

	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.APIBind == "" {
		c.APIBind = def.APIBind
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}

	applyRetrieverDefaults(&c.Retriever, def.Retriever)
	applyExtractorDefaults(&c.Extractor, def.Extractor)

	if c.Cache.Dir == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.MaxMiB <= 0 {
		c.Cache.MaxMiB = def.Cache.MaxMiB
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = def.Cache.TTLHours
	}

	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	for id, p := range c.Providers {
		base, ok := def.Providers[id]
		if !ok {
			base = def.Providers["openai"]
		}
		if p.BaseURL == "" {
			p.BaseURL = base.BaseURL
		}
		if p.Model == "" {
			p.Model = base.Model
		}
		if p.Weight <= 0 {
			p.Weight = 1
		}
		if p.RequestsPerMinute <= 0 {
			p.RequestsPerMinute = base.RequestsPerMinute
		}
		if p.MaxInFlight <= 0 {
			p.MaxInFlight = base.MaxInFlight
		}
		if p.MaxQueueWaitSeconds <= 0 {
			p.MaxQueueWaitSeconds = base.MaxQueueWaitSeconds
		}
		if p.RetryAttempts <= 0 {
			p.RetryAttempts = base.RetryAttempts
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = base.TimeoutSeconds
		}
		c.Providers[id] = p
	}

	if c.Aggregation.DisputeThreshold <= 0 {
		c.Aggregation.DisputeThreshold = def.Aggregation.DisputeThreshold
	}
	if c.Aggregation.ScaleMax <= c.Aggregation.ScaleMin {
		c.Aggregation.ScaleMin = def.Aggregation.ScaleMin
		c.Aggregation.ScaleMax = def.Aggregation.ScaleMax
	}
	if len(c.Aggregation.Criteria) == 0 {
		c.Aggregation.Criteria = DefaultCriteria()
	}

	if c.Ledger.TimeoutSeconds <= 0 {
		c.Ledger.TimeoutSeconds = def.Ledger.TimeoutSeconds
	}

	if c.Workflow.PollIntervalSeconds <= 0 {
		c.Workflow.PollIntervalSeconds = def.Workflow.PollIntervalSeconds
	}
	if c.Workflow.ErrorRetrySeconds <= 0 {
		c.Workflow.ErrorRetrySeconds = def.Workflow.ErrorRetrySeconds
	}
	if c.Workflow.JobTimeoutMinutes <= 0 {
		c.Workflow.JobTimeoutMinutes = def.Workflow.JobTimeoutMinutes
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = def.Notifications.RequestTimeout
	}
}

func applyRetrieverDefaults(r *Retriever, def Retriever) {
	if r.YtDlpBinary == "" {
		r.YtDlpBinary = def.YtDlpBinary
	}
	if r.MaxSizeMiB <= 0 {
		r.MaxSizeMiB = def.MaxSizeMiB
	}
	if r.MaxDurationMinutes <= 0 {
		r.MaxDurationMinutes = def.MaxDurationMinutes
	}
	if r.RetryAttempts <= 0 {
		r.RetryAttempts = def.RetryAttempts
	}
	if r.RetryBaseDelayMS <= 0 {
		r.RetryBaseDelayMS = def.RetryBaseDelayMS
	}
	if r.RetryMaxDelayMS <= 0 {
		r.RetryMaxDelayMS = def.RetryMaxDelayMS
	}
}

func applyExtractorDefaults(e *Extractor, def Extractor) {
	if e.FFmpegBinary == "" {
		e.FFmpegBinary = def.FFmpegBinary
	}
	if e.FFprobeBinary == "" {
		e.FFprobeBinary = def.FFprobeBinary
	}
	if e.AudioChunkSeconds <= 0 {
		e.AudioChunkSeconds = def.AudioChunkSeconds
	}
	if e.MaxDensity <= 0 {
		e.MaxDensity = def.MaxDensity
	}
}
