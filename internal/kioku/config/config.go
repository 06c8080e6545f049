// Package config loads Kioku's configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and KIOKU_* environment variables (optionally seeded
// from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kioku/common/environment"
	"github.com/bdobrica/Kioku/common/retry"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Search     SearchConfig     `yaml:"search"`
	Context    ContextConfig    `yaml:"context"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Session    SessionConfig    `yaml:"session"`
	Server     ServerConfig     `yaml:"server"`
	Encoder    EncoderConfig    `yaml:"encoder"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NormalizerConfig struct {
	Language string `yaml:"language"`
}

// EmbeddingConfig selects the sentence encoder and the cache in front of it.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	// APIKeyEnv names the variable holding the API key. The key itself is
	// never read from the YAML file.
	APIKeyEnv string       `yaml:"api_key_env"`
	APIKey    string       `yaml:"-"`
	Retry     retry.Config `yaml:"retry"`
	Cache     CacheConfig  `yaml:"cache"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SearchConfig struct {
	Threshold float64 `yaml:"threshold"`
	Limit     int     `yaml:"limit"`
	Backend   string  `yaml:"backend"`
}

// ContextConfig sizes the neighbourhood rendered around each search hit.
type ContextConfig struct {
	Before int `yaml:"before"`
	After  int `yaml:"after"`
}

type IngestConfig struct {
	ReembedConcurrency int `yaml:"reembed_concurrency"`
}

type SessionConfig struct {
	MaxTurns    int           `yaml:"max_turns"`
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	MaxSessions int           `yaml:"max_sessions"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// EncoderConfig describes the text-embeddings-inference container started
// by "kioku encoder up".
type EncoderConfig struct {
	Image      string `yaml:"image"`
	Name       string `yaml:"name"`
	ModelID    string `yaml:"model_id"`
	HostPort   int    `yaml:"host_port"`
	DataVolume string `yaml:"data_volume"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Database:   DatabaseConfig{Path: "./kioku.db"},
		Log:        LogConfig{Level: "info", Format: "text"},
		Normalizer: NormalizerConfig{Language: "russian"},
		Embedding: EmbeddingConfig{
			Provider:  "tei",
			Dimension: 768,
			Timeout:   30 * time.Second,
			Model:     "DeepPavlov/rubert-base-cased-sentence",
			BaseURL:   "http://localhost:8080",
			APIKeyEnv: "KIOKU_EMBEDDING_API_KEY",
			Retry:     retry.DefaultConfig,
			Cache: CacheConfig{
				Backend: "memory",
				TTL:     24 * time.Hour,
				Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "kioku:emb:"},
			},
		},
		Search:  SearchConfig{Threshold: 0.3, Limit: 3, Backend: "sqlite"},
		Context: ContextConfig{Before: 2, After: 5},
		Ingest:  IngestConfig{ReembedConcurrency: 4},
		Session: SessionConfig{MaxTurns: 400, IdleTTL: 6 * time.Hour, MaxSessions: 1000},
		Server:  ServerConfig{Addr: ":8090", MetricsPath: "/metrics"},
		Encoder: EncoderConfig{
			Image:      "ghcr.io/huggingface/text-embeddings-inference:cpu-1.5",
			Name:       "kioku-encoder",
			ModelID:    "DeepPavlov/rubert-base-cased-sentence",
			HostPort:   8080,
			DataVolume: "kioku-encoder-data",
		},
	}
}

// Load reads the YAML file at path, fills unset fields with defaults,
// applies environment overrides and validates the result. A missing file
// is not an error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			var fromFile Config
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			applyDefaults(&fromFile, cfg)
			cfg = &fromFile
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg, def *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Normalizer.Language == "" {
		cfg.Normalizer.Language = def.Normalizer.Language
	}

	e, de := &cfg.Embedding, def.Embedding
	if e.Provider == "" {
		e.Provider = de.Provider
	}
	if e.Dimension == 0 {
		e.Dimension = de.Dimension
	}
	if e.Timeout == 0 {
		e.Timeout = de.Timeout
	}
	if e.Model == "" {
		e.Model = de.Model
	}
	if e.BaseURL == "" {
		e.BaseURL = de.BaseURL
	}
	if e.APIKeyEnv == "" {
		e.APIKeyEnv = de.APIKeyEnv
	}
	if e.Retry.MaxAttempts == 0 {
		e.Retry.MaxAttempts = de.Retry.MaxAttempts
	}
	if e.Retry.InitialDelay == 0 {
		e.Retry.InitialDelay = de.Retry.InitialDelay
	}
	if e.Retry.MaxDelay == 0 {
		e.Retry.MaxDelay = de.Retry.MaxDelay
	}
	if e.Cache.Backend == "" {
		e.Cache.Backend = de.Cache.Backend
	}
	if e.Cache.TTL == 0 {
		e.Cache.TTL = de.Cache.TTL
	}
	if e.Cache.Redis.Addr == "" {
		e.Cache.Redis.Addr = de.Cache.Redis.Addr
	}
	if e.Cache.Redis.Prefix == "" {
		e.Cache.Redis.Prefix = de.Cache.Redis.Prefix
	}

	// A zero threshold is a legitimate setting, so only the limit and
	// backend fall back.
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = def.Search.Limit
	}
	if cfg.Search.Backend == "" {
		cfg.Search.Backend = def.Search.Backend
	}
	if cfg.Context == (ContextConfig{}) {
		cfg.Context = def.Context
	}
	if cfg.Ingest.ReembedConcurrency == 0 {
		cfg.Ingest.ReembedConcurrency = def.Ingest.ReembedConcurrency
	}
	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = def.Session.MaxTurns
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = def.Session.IdleTTL
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = def.Session.MaxSessions
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = def.Server.MetricsPath
	}

	enc, denc := &cfg.Encoder, def.Encoder
	if enc.Image == "" {
		enc.Image = denc.Image
	}
	if enc.Name == "" {
		enc.Name = denc.Name
	}
	if enc.ModelID == "" {
		enc.ModelID = denc.ModelID
	}
	if enc.HostPort == 0 {
		enc.HostPort = denc.HostPort
	}
	if enc.DataVolume == "" {
		enc.DataVolume = denc.DataVolume
	}
}

func applyEnv(cfg *Config) error {
	var o environment.Overlay
	o.String(&cfg.Database.Path, "KIOKU_DATABASE_PATH")
	o.String(&cfg.Log.Level, "KIOKU_LOG_LEVEL")
	o.String(&cfg.Log.Format, "KIOKU_LOG_FORMAT")
	o.String(&cfg.Normalizer.Language, "KIOKU_NORMALIZER_LANGUAGE")
	o.String(&cfg.Embedding.Provider, "KIOKU_EMBEDDING_PROVIDER")
	o.String(&cfg.Embedding.BaseURL, "KIOKU_EMBEDDING_BASE_URL")
	o.String(&cfg.Embedding.Model, "KIOKU_EMBEDDING_MODEL")
	o.Duration(&cfg.Embedding.Timeout, "KIOKU_EMBEDDING_TIMEOUT")
	o.String(&cfg.Embedding.Cache.Backend, "KIOKU_EMBEDDING_CACHE")
	o.String(&cfg.Embedding.Cache.Redis.Addr, "KIOKU_REDIS_ADDR")
	o.String(&cfg.Embedding.Cache.Redis.Password, "KIOKU_REDIS_PASSWORD")
	o.Float(&cfg.Search.Threshold, "KIOKU_SEARCH_THRESHOLD")
	o.Int(&cfg.Search.Limit, "KIOKU_SEARCH_LIMIT")
	o.String(&cfg.Server.Addr, "KIOKU_HTTP_ADDR")
	cfg.Embedding.APIKey = environment.StringOr(cfg.Embedding.APIKeyEnv, cfg.Embedding.APIKey)
	return o.Err()
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Normalizer.Language {
	case "english", "russian":
	default:
		return fmt.Errorf("config: normalizer.language %q must be english or russian", c.Normalizer.Language)
	}
	switch c.Embedding.Provider {
	case "tei", "openai", "hash", "noop":
	default:
		return fmt.Errorf("config: embedding.provider %q must be one of tei, openai, hash, noop", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.Timeout < 0 {
		return fmt.Errorf("config: embedding.timeout must not be negative")
	}
	switch c.Embedding.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("config: embedding.cache.backend %q must be none, memory or redis", c.Embedding.Cache.Backend)
	}
	if c.Search.Threshold < -1 || c.Search.Threshold >= 1 {
		return fmt.Errorf("config: search.threshold %v must be in [-1, 1)", c.Search.Threshold)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("config: search.limit must be positive, got %d", c.Search.Limit)
	}
	switch c.Search.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: search.backend %q must be sqlite or memory", c.Search.Backend)
	}
	if c.Context.Before < 0 || c.Context.After < 0 {
		return fmt.Errorf("config: context.before and context.after must not be negative")
	}
	if c.Ingest.ReembedConcurrency <= 0 {
		return fmt.Errorf("config: ingest.reembed_concurrency must be positive")
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("config: session.max_turns must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	return nil
}
