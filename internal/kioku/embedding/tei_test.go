package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTEIServer(t *testing.T, handler http.HandlerFunc) *TEIEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTEIEmbedder(TEIConfig{BaseURL: srv.URL + "/"})
}

func TestTEIEmbedder_Embed(t *testing.T) {
	e := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %s, want /embed", r.URL.Path)
		}
		var req teiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Inputs != "привет мир" {
			t.Errorf("inputs = %q", req.Inputs)
		}
		if !req.Truncate {
			t.Error("truncate should be requested")
		}
		w.Write([]byte(`[[0.5, -0.25, 1.0]]`))
	})

	vec, err := e.Embed(context.Background(), "привет мир")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.5, -0.25, 1.0}
	if len(vec) != len(want) {
		t.Fatalf("len = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestTEIEmbedder_EmptyText(t *testing.T) {
	e := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be called for empty text")
	})
	vec, err := e.Embed(context.Background(), "")
	if err != nil || vec != nil {
		t.Fatalf("Embed('') = %v, %v; want nil, nil", vec, err)
	}
}

func TestTEIEmbedder_ErrorBody(t *testing.T) {
	e := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"error":"input too long","error_type":"Validation"}`))
	})
	_, err := e.Embed(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "Validation: input too long") {
		t.Fatalf("err = %v", err)
	}
}

func TestTEIEmbedder_Health(t *testing.T) {
	healthy := true
	e := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	if err := e.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	healthy = false
	if err := e.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}
