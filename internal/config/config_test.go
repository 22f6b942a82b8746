package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Retriever.MaxSizeMiB != 512 {
		t.Errorf("MaxSizeMiB = %d, want 512", cfg.Retriever.MaxSizeMiB)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Logging.Level)
	}
	if len(cfg.Aggregation.Criteria) != 4 {
		t.Errorf("default rubric criteria = %d, want 4", len(cfg.Aggregation.Criteria))
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[retriever]
max_size_mib = 64

[providers.openai]
enabled = true
api_key = "sk-test"
model = "gpt-4o"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retriever.MaxSizeMiB != 64 {
		t.Errorf("MaxSizeMiB = %d, want 64", cfg.Retriever.MaxSizeMiB)
	}
	if cfg.Retriever.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want default 3", cfg.Retriever.RetryAttempts)
	}
	p, ok := cfg.ProviderFor("openai")
	if !ok || !p.Enabled {
		t.Fatal("expected openai provider enabled")
	}
	if p.RequestsPerMinute != 30 {
		t.Errorf("RequestsPerMinute = %d, want default 30", p.RequestsPerMinute)
	}
	if got := cfg.EnabledProviders(); len(got) != 1 || got[0] != "openai" {
		t.Errorf("EnabledProviders = %v, want [openai]", got)
	}
}

func TestValidateRejectsEnabledProviderWithoutKey(t *testing.T) {
	cfg := Default()
	p := cfg.Providers["openai"]
	p.Enabled = true
	p.APIKey = ""
	cfg.Providers["openai"] = p

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsLedgerWithoutEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Enabled = true
	cfg.Ledger.Endpoint = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for ledger endpoint")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}
