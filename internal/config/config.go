// Package config loads the static bootstrap configuration for the
// worker daemon and rotation driver: how to reach the document store,
// the webhook secret, and the defaults applied before the dynamic
// config collection (see internal/stoplist) has been fetched.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// WebhookConfig secures the /ingest/job surface (spec §6).
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	ReplayWindowSec int    `yaml:"replayWindowSeconds"`
}

// WorkerConfig controls the queue worker loop (§4.I). These are the
// startup defaults; the stoplist/config loader (§4.D) can supersede
// them once the config collection is reachable.
type WorkerConfig struct {
	BatchSize            int `yaml:"batchSize"`
	LeaseSeconds         int `yaml:"leaseSeconds"`
	MaxConcurrentItems   int `yaml:"maxConcurrentItems"`
	PollIntervalSeconds  int `yaml:"pollIntervalSeconds"`
	ShutdownGraceSeconds int `yaml:"shutdownGraceSeconds"`
}

// QueueConfig controls retry/lease defaults (§4.E / §4.D queue_settings).
type QueueConfig struct {
	MaxRetries               int `yaml:"maxRetries"`
	RetryDelaySeconds        int `yaml:"retryDelaySeconds"`
	ProcessingTimeoutSeconds int `yaml:"processingTimeoutSeconds"`
	HighWatermark            int `yaml:"highWatermark"`
	CleanupRetentionHours    int `yaml:"cleanupRetentionHours"`
}

// AIConfig controls scoring defaults (§4.D ai_settings).
type AIConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	MinMatchScore   int     `yaml:"minMatchScore"`
	DailyCostBudget float64 `yaml:"dailyCostBudget"`
}

// DedupCacheConfig sizes the in-process TTL cache (§4.C).
type DedupCacheConfig struct {
	TTLSeconds int `yaml:"ttlSeconds"`
	MaxEntries int `yaml:"maxEntries"`
}

// RotationConfig controls the rotation driver (§4.G).
type RotationConfig struct {
	BatchSize          int `yaml:"batchSize"`
	IntervalSeconds    int `yaml:"intervalSeconds"`
	BackoffBaseSeconds int `yaml:"backoffBaseSeconds"`
	BackoffMaxSeconds  int `yaml:"backoffMaxSeconds"`
}

// PipelineConfig controls per-item pipeline timeouts (§4.J).
type PipelineConfig struct {
	CompanyAnalysisTimeoutSeconds int `yaml:"companyAnalysisTimeoutSeconds"`
	JobScrapeTimeoutSeconds       int `yaml:"jobScrapeTimeoutSeconds"`
	ScoreTimeoutSeconds           int `yaml:"scoreTimeoutSeconds"`
}

// StopListConfig controls how often component D refreshes its
// snapshot of the config collection.
type StopListConfig struct {
	RefreshIntervalSeconds int `yaml:"refreshIntervalSeconds"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Worker     WorkerConfig     `yaml:"worker"`
	Queue      QueueConfig      `yaml:"queue"`
	AI         AIConfig         `yaml:"ai"`
	DedupCache DedupCacheConfig `yaml:"dedupCache"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	StopList   StopListConfig   `yaml:"stopList"`
}

// Load reads the YAML config file at path and layers environment
// variable overrides on top, matching the env+config-collection
// surface described in spec §6. A missing file is not an error —
// the process falls back to Default() plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config file: %w", err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns the startup defaults named throughout spec §4.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Webhook: WebhookConfig{ReplayWindowSec: 300},
		Worker: WorkerConfig{
			BatchSize:            10,
			LeaseSeconds:         300,
			MaxConcurrentItems:   4,
			PollIntervalSeconds:  60,
			ShutdownGraceSeconds: 30,
		},
		Queue: QueueConfig{
			MaxRetries:               3,
			RetryDelaySeconds:        0,
			ProcessingTimeoutSeconds: 300,
			HighWatermark:            500,
			CleanupRetentionHours:    24 * 14,
		},
		AI: AIConfig{
			Provider:        "anthropic",
			Model:           "claude",
			MinMatchScore:   60,
			DailyCostBudget: 10,
		},
		DedupCache: DedupCacheConfig{TTLSeconds: 300, MaxEntries: 50000},
		Rotation: RotationConfig{
			BatchSize:          10,
			IntervalSeconds:    900,
			BackoffBaseSeconds: 30,
			BackoffMaxSeconds:  1800,
		},
		Pipeline: PipelineConfig{
			CompanyAnalysisTimeoutSeconds: 300,
			JobScrapeTimeoutSeconds:       60,
			ScoreTimeoutSeconds:           60,
		},
		StopList: StopListConfig{RefreshIntervalSeconds: 60},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("WORKER_MAX_CONCURRENT_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.MaxConcurrentItems = n
		}
	}
}

// Validate performs basic startup sanity checks so configuration
// errors surface immediately (process surface exit code 2, spec §6)
// rather than during the first claim/ingest call.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("database.dsn must be set")
	}
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return errors.New("webhook.secret must be set")
	}
	if cfg.Worker.BatchSize <= 0 {
		return errors.New("worker.batchSize must be positive")
	}
	if cfg.Worker.LeaseSeconds <= 0 {
		return errors.New("worker.leaseSeconds must be positive")
	}
	if cfg.Queue.MaxRetries < 0 {
		return errors.New("queue.maxRetries must not be negative")
	}
	switch cfg.AI.Provider {
	case "openai", "anthropic", "google", "":
	default:
		return fmt.Errorf("unsupported ai.provider: %s", cfg.AI.Provider)
	}
	return nil
}
