package app_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/ingest"
	"github.com/bdobrica/Kioku/internal/kioku/transcript"
)

func testConfig(t *testing.T, searchBackend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "kioku.db")
	cfg.Normalizer.Language = "english"
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Model = "hash-768"
	cfg.Embedding.Cache.Backend = "memory"
	cfg.Search.Backend = searchBackend
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	for _, backend := range []string{"sqlite", "memory"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			a, err := app.New(ctx, testConfig(t, backend), nil)
			if err != nil {
				t.Fatalf("app.New: %v", err)
			}
			defer a.Close()

			res, err := a.Ingestor.Ingest(ctx, ingest.Request{
				Entries: []transcript.Entry{
					{Speaker: "Alice", Text: "The cats are running!", Start: 0},
					{Speaker: "Bob", Text: "Quarterly budget review tomorrow", Start: 4000},
					{Speaker: "Alice", Text: "Bring snacks", Start: 9000},
				},
				Date: "2024-05-01",
				Time: "10:00:00",
			})
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if res.Messages != 3 || len(res.PendingHandles) != 2 {
				t.Fatalf("result = %+v", res)
			}

			hits, err := a.Searcher.SearchText(ctx, "cats running", a.Config.Search.Threshold, a.Config.Search.Limit)
			if err != nil {
				t.Fatalf("SearchText: %v", err)
			}
			if len(hits) == 0 || hits[0].Message.RawText != "The cats are running!" {
				t.Fatalf("hits = %+v", hits)
			}
			if hits[0].Score < 0.999 {
				t.Errorf("identical normalized text scored %.3f", hits[0].Score)
			}

			out, err := a.Assembler.Assemble(ctx, hits[:1])
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			want := "Conversation date and time: 2024-05-01 10:00:00\n" +
				"Alice: The cats are running! [similarity: 1.00]\n" +
				"Bob: Quarterly budget review tomorrow\n" +
				"Alice: Bring snacks"
			if out != want {
				t.Errorf("Assemble =\n%s\nwant\n%s", out, want)
			}
		})
	}
}

func TestApp_Wiring(t *testing.T) {
	ctx := context.Background()
	a, err := app.New(ctx, testConfig(t, "sqlite"), nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()

	if a.EncoderProbe() != nil {
		t.Error("hash provider should have no health probe")
	}
	spec := a.EncoderSpec()
	if spec.Name != "kioku-encoder" || spec.HostPort != 8080 || !strings.Contains(spec.Image, "text-embeddings-inference") {
		t.Errorf("EncoderSpec = %+v", spec)
	}
	if a.Sessions == nil || a.Generator.Dimension() != 768 {
		t.Error("components not wired")
	}
}

func TestApp_TEIProviderHasProbe(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cfg.Embedding.Provider = "tei"
	a, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()
	if a.EncoderProbe() == nil {
		t.Error("tei provider should expose a health probe")
	}
}

func TestApp_OpenAIRequiresKey(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = ""
	if _, err := app.New(context.Background(), cfg, nil); err == nil {
		t.Error("expected an error without an API key")
	}
}
