package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/audio"
	"github.com/podly-labs/podflow/capabilities"
	"github.com/podly-labs/podflow/config"
	"github.com/podly-labs/podflow/llmprovider"
	"github.com/podly-labs/podflow/media"
	"github.com/podly-labs/podflow/script"
	"github.com/podly-labs/podflow/store"
)

// services bundles everything the commands run against.
type services struct {
	registry *podflow.Registry
	script   *script.Service
	audio    *audio.Service
}

// buildServices wires config into the capability registry and pipeline
// services. Composition happens here once; nothing reads config afterwards.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger, events podflow.EventHandler) (*services, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}

	llmClient, err := llmprovider.NewClient(cfg.LLM.Provider, cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	objects, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	synths, err := buildSynthesizers(ctx, cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	registry := podflow.NewRegistry()
	err = capabilities.Register(registry, capabilities.Deps{
		LLM:          llmClient,
		DefaultModel: cfg.LLM.Model,
		Tavily:       capabilities.NewTavilyClient(cfg.Search.APIKey, httpClient),
		Synthesizers: synths,
		TTSBackend:   cfg.TTS.Backend,
		Media:        media.NewEngine(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, logger),
		Store:        objects,
		HTTPClient:   httpClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registering capabilities: %w", err)
	}

	scriptSv, err := script.NewService(registry, events, logger)
	if err != nil {
		return nil, fmt.Errorf("script service: %w", err)
	}
	audioSv := audio.NewService(registry, cfg.Audio.ScratchDir, cfg.Audio.AssetCacheDir, events, logger)

	return &services{registry: registry, script: scriptSv, audio: audioSv}, nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return store.NewS3Store(ctx, store.S3Config{
			Region:      cfg.Storage.Region,
			Bucket:      cfg.Storage.Bucket,
			AssetBucket: cfg.Storage.AssetBucket,
		}, logger)
	default:
		dir := cfg.Storage.LocalDir
		if dir == "" {
			dir = "./data"
		}
		return store.NewLocalStore(dir), nil
	}
}

// buildSynthesizers registers every reachable speech backend so render jobs
// can pick one per request; cfg.TTS.Backend only selects the default.
func buildSynthesizers(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (map[string]capabilities.Synthesizer, error) {
	backends := map[string]capabilities.Synthesizer{
		"openai": capabilities.NewOpenAISynthesizer(cfg.TTS.APIKey, httpClient),
	}
	pollySynth, err := capabilities.NewPollySynthesizer(ctx, cfg.Storage.Region)
	if err != nil {
		if cfg.TTS.Backend == "polly" {
			return nil, fmt.Errorf("polly tts: %w", err)
		}
		logger.Warn("polly tts unavailable", "error", err)
		return backends, nil
	}
	backends["polly"] = pollySynth
	return backends, nil
}
