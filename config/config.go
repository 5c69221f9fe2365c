// Package config loads service configuration from a YAML file with
// environment-variable overrides for secrets and deploy-specific values.
// The loaded struct is threaded into constructors at startup; nothing reads
// configuration ambiently afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	TTS       TTSConfig       `yaml:"tts"`
	Storage   StorageConfig   `yaml:"storage"`
	Audio     AudioConfig     `yaml:"audio"`
	Media     MediaConfig     `yaml:"media"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`

	// JanitorSchedule is a cron expression for periodic scratch and cache
	// sweeps. Empty disables the janitor.
	JanitorSchedule string `yaml:"janitor_schedule"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

type SearchConfig struct {
	APIKey string `yaml:"api_key"`
}

type TTSConfig struct {
	Backend string `yaml:"backend"` // "openai" or "polly"
	APIKey  string `yaml:"api_key"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"` // "s3" or "local"
	Bucket      string `yaml:"bucket"`
	AssetBucket string `yaml:"asset_bucket"`
	Region      string `yaml:"region"`
	LocalDir    string `yaml:"local_dir"`
}

type AudioConfig struct {
	ScratchDir    string `yaml:"scratch_dir"`
	AssetCacheDir string `yaml:"asset_cache_dir"`
}

type MediaConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			DatabasePath:    "podflow.db",
			JanitorSchedule: "0 */6 * * *",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4.1",
		},
		TTS: TTSConfig{
			Backend: "openai",
			Model:   "tts-1",
		},
		Storage: StorageConfig{
			Backend: "local",
			Region:  "ap-northeast-1",
		},
		Audio: AudioConfig{
			ScratchDir:    os.TempDir() + "/podflow",
			AssetCacheDir: os.TempDir() + "/podflow-assets",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment values over the file. Secrets are expected to
// arrive this way in deployed environments.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "PODFLOW_ADDR")
	setString(&c.Server.DatabasePath, "PODFLOW_DB_PATH")
	setString(&c.LLM.Provider, "PODFLOW_LLM_PROVIDER")
	setString(&c.LLM.Model, "PODFLOW_LLM_MODEL")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.Search.APIKey, "TAVILY_API_KEY")
	setString(&c.TTS.Backend, "PODFLOW_TTS_BACKEND")
	setString(&c.TTS.APIKey, "PODFLOW_TTS_API_KEY")
	setString(&c.Storage.Bucket, "PODFLOW_S3_BUCKET")
	setString(&c.Storage.AssetBucket, "PODFLOW_S3_ASSET_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Media.FFmpegPath, "FFMPEG_PATH")
	setString(&c.Media.FFprobePath, "FFPROBE_PATH")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&c.Telemetry.Enabled, "PODFLOW_TELEMETRY")

	// The TTS key defaults to the LLM key when both speak to OpenAI.
	if c.TTS.APIKey == "" && c.TTS.Backend == "openai" {
		c.TTS.APIKey = c.LLM.APIKey
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	case "local", "":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.TTS.Backend {
	case "openai", "polly", "":
	default:
		return fmt.Errorf("unknown tts backend %q", c.TTS.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
