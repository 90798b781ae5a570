package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/auth"
	mid "github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/graph"
	"github.com/OFFIS-RIT/insight/backend/pkg/insights"
	"github.com/OFFIS-RIT/insight/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/insight/backend/pkg/store/memory"

	"github.com/labstack/echo/v4"
)

const analysisResponse = `{
	"emotions": [{"name": "Anxiety", "intensity": 4, "context": "deadline", "topics": ["Work"]}],
	"action_items": [{"name": "Write a plan", "description": "Plan the week on Monday", "topics": ["Work"]}]
}`

type stubAI struct{ raw string }

func (s stubAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return s.raw, nil
}

func (s stubAI) GenerateAudioTranscription(ctx context.Context, audio []byte, filename, language string) (string, error) {
	return "", errors.New("no audio backend")
}

func (stubAI) ResetMetrics()               {}
func (stubAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type testServer struct {
	t    *testing.T
	echo *echo.Echo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	aiClient := stubAI{raw: analysisResponse}
	pipeline, err := graph.NewSessionPipeline(graph.NewSessionPipelineParams{
		Store:    st,
		AIClient: aiClient,
		Locker:   leaselock.NewLocal(),
	})
	if err != nil {
		t.Fatalf("NewSessionPipeline() error = %v", err)
	}
	authSvc, err := auth.NewService(auth.NewMemoryUserStore(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	app := &mid.App{
		Graph:    st,
		Pipeline: pipeline,
		Insights: insights.NewService(st),
		Auth:     authSvc,
		AIClient: aiClient,
		Health: []mid.HealthCheck{{
			Name:  "graph",
			Check: func(c echo.Context) error { return st.Ping(c.Request().Context()) },
		}},
	}
	return &testServer{t: t, echo: NewEcho(app)}
}

func (s *testServer) do(method, path, token string, body any) (int, map[string]any) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func (s *testServer) doList(path, token string) (int, []any) {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var out []any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func (s *testServer) login(email string) string {
	s.t.Helper()
	code, _ := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "name": "Test", "password": "correct-horse",
	})
	if code != http.StatusCreated {
		s.t.Fatalf("register %s: status = %d", email, code)
	}
	code, body := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	if code != http.StatusOK {
		s.t.Fatalf("login %s: status = %d", email, code)
	}
	token, _ := body["token"].(string)
	if token == "" {
		s.t.Fatalf("login %s: no token in %v", email, body)
	}
	return token
}

func (s *testServer) createSession(token string) string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/sessions", token, map[string]string{
		"title":        "Week 1",
		"transcript":   "Client: I am anxious about the deadline.",
		"session_date": "2026-03-02",
	})
	if code != http.StatusCreated {
		s.t.Fatalf("create session: status = %d body = %v", code, body)
	}
	id, _ := body["id"].(string)
	return id
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice@example.com")
	id := s.createSession(token)

	code, body := s.do(http.MethodPost, "/api/sessions/"+id+"/analyze", token, nil)
	if code != http.StatusOK || body["status"] != "analyzed" {
		t.Fatalf("analyze: status = %d body = %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/sessions/"+id+"/analysis", token, nil)
	if code != http.StatusOK {
		t.Fatalf("analysis: status = %d", code)
	}
	elements, _ := body["elements"].(map[string]any)
	if emotions, _ := elements["emotions"].([]any); len(emotions) != 1 {
		t.Fatalf("emotions = %v", elements["emotions"])
	}
	if beliefs, ok := elements["beliefs"].([]any); !ok || len(beliefs) != 0 {
		t.Fatalf("beliefs = %v, want empty list", elements["beliefs"])
	}

	code, _ = s.do(http.MethodPatch, "/api/sessions/"+id, token, map[string]string{"title": "Renamed"})
	if code != http.StatusConflict {
		t.Fatalf("edit analyzed session: status = %d, want 409", code)
	}

	code, list := s.doList("/api/elements/emotion", token)
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("elements: status = %d list = %v", code, list)
	}

	code, body = s.do(http.MethodPatch, "/api/action-items/Write%20a%20Plan", token, map[string]string{"status": "completed"})
	if code != http.StatusOK {
		t.Fatalf("action item: status = %d body = %v", code, body)
	}
	props, _ := body["properties"].(map[string]any)
	if props["status"] != "completed" {
		t.Fatalf("action item properties = %v", props)
	}

	code, list = s.doList("/api/timeline", token)
	if code != http.StatusOK || len(list) != 1 {
		t.Fatalf("timeline: status = %d list = %v", code, list)
	}

	code, body = s.do(http.MethodGet, "/api/insights/all", token, nil)
	if code != http.StatusOK || body["session_count"] != float64(1) {
		t.Fatalf("insights: status = %d body = %v", code, body)
	}

	code, _ = s.do(http.MethodDelete, "/api/sessions/"+id, token, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: status = %d", code)
	}
	code, _ = s.do(http.MethodGet, "/api/sessions/"+id, token, nil)
	if code != http.StatusNotFound {
		t.Fatalf("get deleted: status = %d, want 404", code)
	}
}

func TestSessionsAreScopedToUser(t *testing.T) {
	s := newTestServer(t)
	alice := s.login("alice@example.com")
	bob := s.login("bob@example.com")
	id := s.createSession(alice)

	if code, _ := s.do(http.MethodGet, "/api/sessions/"+id, bob, nil); code != http.StatusNotFound {
		t.Fatalf("foreign get: status = %d, want 404", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/sessions/"+id+"/analyze", bob, nil); code != http.StatusNotFound {
		t.Fatalf("foreign analyze: status = %d, want 404", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/sessions?user_id=whoever", bob, nil); code != http.StatusForbidden {
		t.Fatalf("foreign list: status = %d, want 403", code)
	}
	if code, list := s.doList("/api/sessions", bob); code != http.StatusOK || len(list) != 0 {
		t.Fatalf("own list: status = %d list = %v", code, list)
	}
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.login("alice@example.com")
	id := s.createSession(token)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/sessions", "", nil, http.StatusUnauthorized},
		{"missing title", http.MethodPost, "/api/sessions", token, map[string]string{}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/sessions", token, map[string]string{"title": "x", "session_date": "soon"}, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/api/sessions/" + id + "/analyze", token, map[string]any{"kinds": []string{"mood"}}, http.StatusBadRequest},
		{"async without queue", http.MethodPost, "/api/sessions/" + id + "/analyze?async=true", token, nil, http.StatusServiceUnavailable},
		{"audio without storage", http.MethodPost, "/api/sessions/" + id + "/audio", token, nil, http.StatusServiceUnavailable},
		{"unknown element kind", http.MethodGet, "/api/elements/mood", token, nil, http.StatusBadRequest},
		{"bad action status", http.MethodPatch, "/api/action-items/x", token, map[string]string{"status": "done"}, http.StatusBadRequest},
		{"user lookup needs permission", http.MethodGet, "/api/users/someone", token, nil, http.StatusForbidden},
		{"duplicate email", http.MethodPost, "/api/auth/register", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"}, http.StatusConflict},
		{"wrong password", http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope-nope"}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, body := s.do(tc.method, tc.path, tc.token, tc.body); code != tc.want {
				t.Fatalf("status = %d, want %d (body %v)", code, tc.want, body)
			}
		})
	}
}

func TestAccountCredentials(t *testing.T) {
	s := newTestServer(t)
	token := s.login("carol@example.com")

	code, _ := s.do(http.MethodPut, "/api/auth/credentials/password", token, map[string]string{
		"current_password": "wrong-horse", "new_password": "battery-staple",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("wrong current password: status = %d, want 400", code)
	}
	code, _ = s.do(http.MethodPut, "/api/auth/credentials/password", token, map[string]string{
		"current_password": "correct-horse", "new_password": "battery-staple",
	})
	if code != http.StatusOK {
		t.Fatalf("change password: status = %d", code)
	}
	code, _ = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "carol@example.com", "password": "battery-staple",
	})
	if code != http.StatusOK {
		t.Fatalf("login with new password: status = %d", code)
	}

	if code, _ := s.do(http.MethodDelete, "/api/auth/credentials/api-key", token, nil); code != http.StatusNotFound {
		t.Fatalf("revoke without key: status = %d, want 404", code)
	}
	code, body := s.do(http.MethodPost, "/api/auth/credentials/api-key", token, nil)
	key, _ := body["api_key"].(string)
	if code != http.StatusCreated || key == "" {
		t.Fatalf("generate api key: status = %d body = %v", code, body)
	}
	if code, _ := s.doList("/api/sessions", key); code != http.StatusOK {
		t.Fatalf("sessions with api key: status = %d", code)
	}
	code, creds := s.doList("/api/auth/credentials", key)
	if code != http.StatusOK || len(creds) != 2 {
		t.Fatalf("credentials: status = %d body = %v", code, creds)
	}

	if code, _ := s.do(http.MethodDelete, "/api/auth/credentials/api-key", token, nil); code != http.StatusOK {
		t.Fatalf("revoke api key: status = %d", code)
	}
	if code, _ := s.doList("/api/sessions", key); code != http.StatusUnauthorized {
		t.Fatalf("sessions with revoked key: status = %d, want 401", code)
	}

	code, body = s.do(http.MethodPost, "/api/auth/logout", token, nil)
	if code != http.StatusOK || body["message"] == nil {
		t.Fatalf("logout: status = %d body = %v", code, body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: status = %d body = %v", code, body)
	}
	components, _ := body["components"].(map[string]any)
	if components["graph"] != "ok" {
		t.Fatalf("components = %v", components)
	}
}
