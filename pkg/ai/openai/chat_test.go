package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "test-model",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"emotions\":[]}"}}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *AnalysisOpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnalysisOpenAIClient(NewAnalysisOpenAIClientParams{
		AnalysisModel: "test-model",
		ChatURL:       srv.URL + "/v1/",
		ChatKey:       "test-key",
	})
}

func TestGenerateCompletionJSONMode(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})

	got, err := client.GenerateCompletion(context.Background(), "transcript", ai.WithJSONMode(), ai.WithSystemPrompts("system"))
	if err != nil {
		t.Fatalf("GenerateCompletion() error = %v", err)
	}
	if got != `{"emotions":[]}` {
		t.Fatalf("content = %q", got)
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("response_format = %v, want json_object", body["response_format"])
	}
	if m := client.GetMetrics(); m.Requests != 1 || m.TotalTokens != 15 {
		t.Fatalf("metrics = %+v", m)
	}
	client.ResetMetrics()
	if m := client.GetMetrics(); m.Requests != 0 {
		t.Fatalf("metrics not reset: %+v", m)
	}
}

func TestGenerateCompletionClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, common.ErrRateLimited},
		{http.StatusGatewayTimeout, common.ErrTimeout},
		{http.StatusBadRequest, common.ErrServiceError},
		{http.StatusInternalServerError, common.ErrServiceError},
	}

	for _, tt := range tests {
		calls := 0
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"test"}}`)
		})

		_, err := client.GenerateCompletion(context.Background(), "transcript")
		if !errors.Is(err, tt.want) || !errors.Is(err, common.ErrExternalCall) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
		if calls != 1 {
			t.Errorf("status %d: %d requests, the client must not retry on its own", tt.status, calls)
		}
	}
}

func TestGenerateCompletionNotConfigured(t *testing.T) {
	client := NewAnalysisOpenAIClient(NewAnalysisOpenAIClientParams{AnalysisModel: "m"})
	_, err := client.GenerateCompletion(context.Background(), "x")
	if !errors.Is(err, common.ErrServiceError) {
		t.Fatalf("error = %v, want ErrServiceError", err)
	}
}
