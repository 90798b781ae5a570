package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnalysisOllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &AnalysisOllamaClient{
		analysisModel: "test-model",
		reqLock:       semaphore.NewWeighted(1),
		tokens:        func(s string) int { return len(s) },
		Client:        api.NewClient(u, srv.Client()),
	}
}

func TestGenerateCompletion(t *testing.T) {
	var req map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"test-model","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"{\"insights\":[]}"},"done":true,"prompt_eval_count":30,"eval_count":12}`+"\n")
	})

	got, err := client.GenerateCompletion(context.Background(), "a long transcript", ai.WithJSONMode())
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if got != `{"insights":[]}` {
		t.Fatalf("content = %q", got)
	}
	if req["format"] != "json" {
		t.Fatalf("format = %v, want json", req["format"])
	}
	if m := client.GetMetrics(); m.Requests != 1 || m.TotalTokens != 42 {
		t.Fatalf("metrics = %+v", m)
	}
}

func TestGenerateCompletionWidensContext(t *testing.T) {
	var req struct {
		Options map[string]any `json:"options"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"{}"},"done":true}`+"\n")
	})

	prompt := make([]byte, 8000)
	for i := range prompt {
		prompt[i] = 'a'
	}
	if _, err := client.GenerateCompletion(context.Background(), string(prompt)); err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if n, _ := req.Options["num_ctx"].(float64); n < 8000 {
		t.Fatalf("num_ctx = %v, want at least the prompt size", req.Options["num_ctx"])
	}
}

func TestGenerateCompletionClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, common.ErrRateLimited},
		{http.StatusGatewayTimeout, common.ErrTimeout},
		{http.StatusNotFound, common.ErrServiceError},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, `{"error":"unavailable"}`)
		})
		_, err := client.GenerateCompletion(context.Background(), "x")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestGenerateAudioTranscriptionUnsupported(t *testing.T) {
	client := &AnalysisOllamaClient{}
	_, err := client.GenerateAudioTranscription(context.Background(), []byte{1}, "a.mp3", "")
	if !errors.Is(err, common.ErrServiceError) {
		t.Fatalf("error = %v, want ErrServiceError", err)
	}
}
