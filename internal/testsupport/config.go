package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"arbiter/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.APIBind = "127.0.0.1:0"
	cfg.Cache.Enabled = false
	cfg.Cache.Dir = filepath.Join(base, "cache")
	cfg.Workflow.PollIntervalSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithProvider enables a provider with an API key on the test config.
func WithProvider(id, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		p := b.cfg.Providers[id]
		p.Enabled = true
		p.APIKey = apiKey
		b.cfg.Providers[id] = p
	}
}

// WithCriteria replaces the rubric criteria on the test config.
func WithCriteria(criteria ...config.RubricCriterion) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Aggregation.Criteria = criteria
	}
}

// WithCache enables the artifact cache backed by a temp directory.
func WithCache() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Enabled = true
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yt-dlp", "ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}
