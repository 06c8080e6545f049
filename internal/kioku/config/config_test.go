package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("dimension = %d, want 768", cfg.Embedding.Dimension)
	}
	if cfg.Search.Threshold != 0.3 || cfg.Search.Limit != 3 {
		t.Errorf("search = %+v, want threshold 0.3 limit 3", cfg.Search)
	}
	if cfg.Context.Before != 2 || cfg.Context.After != 5 {
		t.Errorf("context = %+v, want 2/5", cfg.Context)
	}
	if cfg.Session.MaxTurns != 400 {
		t.Errorf("session.max_turns = %d, want 400", cfg.Session.MaxTurns)
	}
}

func TestLoad_FileOverridesAndKeepsDefaults(t *testing.T) {
	path := writeFile(t, "kioku.yaml", `
database:
  path: /var/lib/kioku/kioku.db
normalizer:
  language: english
embedding:
  provider: hash
  timeout: 5s
search:
  limit: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/kioku/kioku.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Normalizer.Language != "english" {
		t.Errorf("language = %q", cfg.Normalizer.Language)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Search.Limit != 10 {
		t.Errorf("limit = %d, want 10", cfg.Search.Limit)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("dimension default lost: %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.Retry.MaxAttempts != 3 {
		t.Errorf("retry default lost: %+v", cfg.Embedding.Retry)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KIOKU_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("KIOKU_EMBEDDING_PROVIDER", "noop")
	t.Setenv("KIOKU_SEARCH_LIMIT", "7")
	t.Setenv("KIOKU_EMBEDDING_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Embedding.Provider != "noop" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	if cfg.Search.Limit != 7 {
		t.Errorf("limit = %d", cfg.Search.Limit)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api key not read from %s", cfg.Embedding.APIKeyEnv)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("KIOKU_SEARCH_LIMIT", "many")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "KIOKU_SEARCH_LIMIT") {
		t.Fatalf("err = %v, want mention of KIOKU_SEARCH_LIMIT", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "database: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"language", func(c *Config) { c.Normalizer.Language = "klingon" }, "normalizer.language"},
		{"provider", func(c *Config) { c.Embedding.Provider = "magic" }, "embedding.provider"},
		{"dimension", func(c *Config) { c.Embedding.Dimension = 0 }, "embedding.dimension"},
		{"cache", func(c *Config) { c.Embedding.Cache.Backend = "disk" }, "embedding.cache.backend"},
		{"threshold", func(c *Config) { c.Search.Threshold = 1 }, "search.threshold"},
		{"limit", func(c *Config) { c.Search.Limit = -1 }, "search.limit"},
		{"backend", func(c *Config) { c.Search.Backend = "faiss" }, "search.backend"},
		{"context", func(c *Config) { c.Context.Before = -1 }, "context.before"},
		{"concurrency", func(c *Config) { c.Ingest.ReembedConcurrency = 0 }, "reembed_concurrency"},
		{"db", func(c *Config) { c.Database.Path = "" }, "database.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("Validate() = %v, want error naming %q", err, tt.field)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "KIOKU_TEST_FROM_DOTENV=yes\n")
	t.Setenv("KIOKU_TEST_FROM_DOTENV", "")
	os.Unsetenv("KIOKU_TEST_FROM_DOTENV")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("KIOKU_TEST_FROM_DOTENV"); got != "yes" {
		t.Errorf("KIOKU_TEST_FROM_DOTENV = %q, want yes", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}
