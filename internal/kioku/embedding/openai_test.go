package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bdobrica/Kioku/common/retry"
)

func TestOpenAIEmbedder_EmptyText(t *testing.T) {
	vec, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k"}).Embed(context.Background(), "")
	if err != nil || vec != nil {
		t.Fatalf("Embed('') = %v, %v; want nil, nil", vec, err)
	}
}

func TestOpenAIEmbedder_Request(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embeddings" {
			t.Errorf("got %s %s, want POST /embeddings", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "kioku/") {
			t.Errorf("User-Agent = %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req != (openAIRequest{Input: "hello world", Model: defaultOpenAIModel, Dimensions: 3}) {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}],"usage":{"total_tokens":2}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 3})
	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want := []float32{0.1, 0.2, 0.3}
	if len(vec) != len(want) {
		t.Fatalf("len = %d, want %d", len(vec), len(want))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("vec[%d] = %v, want %v", i, vec[i], want[i])
		}
	}
}

func TestOpenAIEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantText  string
		permanent bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"nope","type":"auth"}}`, "auth: nope", true},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate"}}`, "slow down", false},
		{"server error without json", http.StatusBadGateway, `upstream down`, "upstream down", false},
		{"empty data", http.StatusOK, `{"data":[]}`, "no embedding data", true},
		{"garbage", http.StatusOK, `not json`, "decode response", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL}).Embed(context.Background(), "text")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantText) {
				t.Errorf("error %q does not contain %q", err, tt.wantText)
			}
			if got := retry.IsPermanent(err); got != tt.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.permanent)
			}
		})
	}
}

func TestEndpoint_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, _, err := newEndpoint("test", 0, "").post(context.Background(), url, struct{}{})
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if retry.IsPermanent(err) {
		t.Error("transport failure marked permanent")
	}
}

func TestEndpoint_Fail(t *testing.T) {
	e := newEndpoint("test", 0, "")
	for status, permanent := range map[int]bool{400: true, 404: true, 408: false, 429: false, 500: false, 503: false} {
		if got := retry.IsPermanent(e.fail(status, "x")); got != permanent {
			t.Errorf("fail(%d) permanent = %v, want %v", status, got, permanent)
		}
	}
	if got := excerpt([]byte(strings.Repeat("a", maxErrorBodyExcerpt+10))); len(got) != maxErrorBodyExcerpt+3 {
		t.Errorf("excerpt length = %d", len(got))
	}
}
