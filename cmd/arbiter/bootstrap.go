package main

import (
	"fmt"
	"log/slog"

	"arbiter/internal/artifactcache"
	"arbiter/internal/config"
	"arbiter/internal/extract"
	"arbiter/internal/jobs"
	"arbiter/internal/ledger"
	"arbiter/internal/notifications"
	"arbiter/internal/pipeline"
	"arbiter/internal/providers"
	"arbiter/internal/providers/openai"
	"arbiter/internal/providers/openrouter"
	"arbiter/internal/retriever"
	"arbiter/internal/rubric"
)

// buildManager wires the full pipeline from configuration: downloader,
// extractor, provider gateway, aggregation rubric, and optional ledger.
func buildManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger) (*pipeline.Manager, error) {
	judgeRubric := rubric.FromConfig(cfg.Aggregation)
	if err := judgeRubric.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rubric: %w", err)
	}

	gateway := providers.NewGateway(logger)
	for _, id := range cfg.EnabledProviders() {
		provider, _ := cfg.ProviderFor(id)
		client, err := buildProviderClient(id, provider, judgeRubric)
		if err != nil {
			return nil, err
		}
		gateway.Register(client, provider)
	}

	fetcher := retriever.New(retriever.NewYtDlpFetcher(cfg.Retriever.YtDlpBinary), cfg.Retriever, logger)
	extractor := extract.New(extract.NewFFmpegDecoder(cfg.Extractor), buildTranscriber(cfg), cfg.Extractor, logger)

	var recorder pipeline.ProvenanceRecorder
	if cfg.Ledger.Enabled {
		if cfg.Ledger.Endpoint == "" {
			return nil, fmt.Errorf("ledger enabled but no endpoint configured")
		}
		recorder = ledger.NewRecorder(ledger.NewHTTPClient(cfg.Ledger), logger)
	}

	deps := pipeline.Deps{
		Store:     store,
		Fetcher:   fetcher,
		Extractor: extractor,
		Cache:     artifactcache.New(cfg, logger),
		Analyzer:  gateway,
		Recorder:  recorder,
		Notifier:  notifications.NewService(cfg),
		Rubric:    judgeRubric,
	}
	return pipeline.NewManager(cfg, deps, logger), nil
}

func buildProviderClient(id string, provider config.Provider, judgeRubric rubric.Rubric) (providers.Provider, error) {
	switch id {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:         provider.APIKey,
			BaseURL:        provider.BaseURL,
			Model:          provider.Model,
			TimeoutSeconds: provider.TimeoutSeconds,
		}, judgeRubric), nil
	case "openrouter":
		return openrouter.NewClient(openrouter.Config{
			APIKey:         provider.APIKey,
			BaseURL:        provider.BaseURL,
			Model:          provider.Model,
			TimeoutSeconds: provider.TimeoutSeconds,
		}, judgeRubric), nil
	default:
		return nil, fmt.Errorf("unknown provider %q in configuration", id)
	}
}

// buildTranscriber returns a Whisper-backed transcriber when transcription is
// enabled and an OpenAI key is configured, nil otherwise.
func buildTranscriber(cfg *config.Config) extract.Transcriber {
	if !cfg.Extractor.Transcribe {
		return nil
	}
	provider, ok := cfg.ProviderFor("openai")
	if !ok || provider.APIKey == "" {
		return nil
	}
	return openai.NewTranscriber(openai.Config{
		APIKey:         provider.APIKey,
		BaseURL:        provider.BaseURL,
		TimeoutSeconds: provider.TimeoutSeconds,
	})
}
