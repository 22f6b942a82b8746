package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Logging controls log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Retriever configures media download behavior.
type Retriever struct {
	YtDlpBinary        string `toml:"ytdlp_binary"`
	MaxSizeMiB         int64  `toml:"max_size_mib"`
	MaxDurationMinutes int    `toml:"max_duration_minutes"`
	RetryAttempts      int    `toml:"retry_attempts"`
	RetryBaseDelayMS   int    `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int    `toml:"retry_max_delay_ms"`
}

// Extractor configures artifact derivation from downloaded media.
type Extractor struct {
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	FFprobeBinary     string `toml:"ffprobe_binary"`
	AudioChunkSeconds int    `toml:"audio_chunk_seconds"`
	MaxDensity        int    `toml:"max_density"`
	Transcribe        bool   `toml:"transcribe"`
}

// Cache configures the fingerprint-keyed artifact cache.
type Cache struct {
	Enabled  bool   `toml:"enabled"`
	Dir      string `toml:"dir"`
	MaxMiB   int64  `toml:"max_mib"`
	TTLHours int    `toml:"ttl_hours"`
}

// Provider holds connection and throttling settings for one LLM provider.
type Provider struct {
	Enabled             bool    `toml:"enabled"`
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	Model               string  `toml:"model"`
	Weight              float64 `toml:"weight"`
	RequestsPerMinute   int     `toml:"requests_per_minute"`
	MaxInFlight         int     `toml:"max_in_flight"`
	MaxQueueWaitSeconds int     `toml:"max_queue_wait_seconds"`
	RetryAttempts       int     `toml:"retry_attempts"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
}

// RubricCriterion describes one judging criterion.
type RubricCriterion struct {
	Name        string  `toml:"name"`
	Weight      float64 `toml:"weight"`
	Description string  `toml:"description"`
}

// Aggregation configures consensus and dispute resolution.
type Aggregation struct {
	DisputeThreshold float64           `toml:"dispute_threshold"`
	ScaleMin         float64           `toml:"scale_min"`
	ScaleMax         float64           `toml:"scale_max"`
	Criteria         []RubricCriterion `toml:"criteria"`
}

// Ledger configures the optional provenance ledger client.
type Ledger struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains pipeline timing knobs.
type Workflow struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	ErrorRetrySeconds   int `toml:"error_retry_seconds"`
	JobTimeoutMinutes   int `toml:"job_timeout_minutes"`
}

// Notifications configures ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config is the root configuration shared across the daemon and CLI.
type Config struct {
	Paths         `toml:"paths"`
	Logging       Logging             `toml:"logging"`
	Retriever     Retriever           `toml:"retriever"`
	Extractor     Extractor           `toml:"extractor"`
	Cache         Cache               `toml:"cache"`
	Providers     map[string]Provider `toml:"providers"`
	Aggregation   Aggregation         `toml:"aggregation"`
	Ledger        Ledger              `toml:"ledger"`
	Workflow      Workflow            `toml:"workflow"`
	Notifications Notifications       `toml:"notifications"`
}

// DefaultConfigPath returns the preferred config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "arbiter", "config.toml"), nil
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. An empty path selects DefaultConfigPath.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", err
		}
		resolved = defaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply when no config file exists yet.
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return cfg, resolved, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon relies on.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.LogDir}
	if c.Cache.Enabled && c.Cache.Dir != "" {
		dirs = append(dirs, c.Cache.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// EnabledProviders returns the identifiers of all enabled providers in sorted order.
func (c *Config) EnabledProviders() []string {
	ids := make([]string, 0, len(c.Providers))
	for id, p := range c.Providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ProviderFor returns the configuration for a provider identifier.
func (c *Config) ProviderFor(id string) (Provider, bool) {
	p, ok := c.Providers[strings.TrimSpace(strings.ToLower(id))]
	return p, ok
}
