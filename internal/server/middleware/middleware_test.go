package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/auth"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	svc, err := auth.NewService(auth.NewMemoryUserStore(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &App{
		Auth:           svc,
		MasterAPIKey:   "master-key",
		MasterUserID:   "master",
		MasterUserRole: "admin",
	}
}

// serve runs AuthMiddleware in front of a handler that echoes the user.
func serve(app *App, header string, extra ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, *AppUser) {
	e := echo.New()
	var seen *AppUser
	handler := func(c echo.Context) error {
		seen = c.(*AppContext).User
		return c.NoContent(http.StatusNoContent)
	}
	for i := len(extra) - 1; i >= 0; i-- {
		handler = extra[i](handler)
	}
	e.GET("/", AuthMiddleware(handler), AppContextMiddleware(app))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := bearerToken(tc.header)
		if got != tc.want || ok != tc.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAuthMiddlewareAcceptsIssuedToken(t *testing.T) {
	app := newTestApp(t)
	token, _, err := app.Auth.Issue(common.User{ID: "u1", Role: "user"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec, user := serve(app, "Bearer "+token)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if user == nil || user.UserID != "u1" || user.Role != "user" || len(user.Permissions) != 0 {
		t.Fatalf("user = %+v", user)
	}
}

func TestAuthMiddlewareMasterKey(t *testing.T) {
	app := newTestApp(t)
	rec, user := serve(app, "Bearer master-key")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if user == nil || user.UserID != "master" || !IsAdmin(user) || !HasPermission(user, "user.view:all") {
		t.Fatalf("user = %+v", user)
	}

	// without a configured master user the key is just an invalid token
	app.MasterUserID = ""
	if rec, _ := serve(app, "Bearer master-key"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	app := newTestApp(t)
	other, err := auth.NewService(auth.NewMemoryUserStore(), "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	foreign, _, err := other.Issue(common.User{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic dXNlcjpwYXNz",
		"garbage token":  "Bearer not.a.token",
		"foreign token":  "Bearer " + foreign,
	} {
		rec, user := serve(app, header)
		if rec.Code != http.StatusUnauthorized || user != nil {
			t.Errorf("%s: status = %d user = %+v, want 401", name, rec.Code, user)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	app := newTestApp(t)
	token, _, err := app.Auth.Issue(common.User{ID: "u1", Role: "user"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	rec, _ := serve(app, "Bearer "+token, RequirePermission("user.view:all"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", rec.Code)
	}
	rec, _ = serve(app, "Bearer master-key", RequirePermission("user.view:all"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin status = %d, want 204", rec.Code)
	}
}

func TestTargetUserID(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name  string
		user  *AppUser
		query string
		want  string
		ok    bool
	}{
		{"own data", &AppUser{UserID: "u1"}, "", "u1", true},
		{"own id named", &AppUser{UserID: "u1"}, "?user_id=u1", "u1", true},
		{"other user denied", &AppUser{UserID: "u1"}, "?user_id=u2", "", false},
		{"admin reads other", &AppUser{UserID: "a", Permissions: allPermissions}, "?user_id=u2", "u2", true},
		{"anonymous", nil, "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
			c := &AppContext{Context: e.NewContext(req, httptest.NewRecorder()), User: tc.user}
			got, ok := TargetUserID(c, "session.view:all")
			if got != tc.want || ok != tc.ok {
				t.Fatalf("TargetUserID() = %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestAuthMiddlewareAPIKey(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()
	u, err := app.Auth.Register(ctx, "erin@example.com", "Erin", "long-enough")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	key, _, err := app.Auth.GenerateAPIKey(ctx, u.ID)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	rec, user := serve(app, "Bearer "+key)
	if rec.Code != http.StatusNoContent || user == nil || user.UserID != u.ID || user.Role != "user" {
		t.Fatalf("status = %d user = %+v", rec.Code, user)
	}

	if err := app.Auth.RevokeAPIKey(ctx, u.ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}
	if rec, _ := serve(app, "Bearer "+key); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key status = %d, want 401", rec.Code)
	}
	if rec, _ := serve(app, "Bearer "+auth.APIKeyPrefix+"0000"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key status = %d, want 401", rec.Code)
	}
}
