package middleware

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/insight/backend/internal/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c.Request().Header.Get("Authorization"))
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}

		ac := c.(*AppContext)
		app := ac.App

		// Master API Key bypass
		if app.MasterAPIKey != "" && app.MasterUserID != "" && app.MasterUserRole != "" && token == app.MasterAPIKey {
			ac.User = &AppUser{
				UserID:      app.MasterUserID,
				Role:        app.MasterUserRole,
				Permissions: allPermissions,
			}
			return next(c)
		}

		// Per-user API keys
		if app.Auth != nil && strings.HasPrefix(token, auth.APIKeyPrefix) {
			u, err := app.Auth.AuthenticateAPIKey(c.Request().Context(), token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			ac.User = newAppUser(u.ID, u.Role, nil)
			return next(c)
		}

		user, ok := userFromToken(app, token)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		ac.User = user
		return next(c)
	}
}

// userFromToken accepts tokens issued by this service and, when a JWKS is
// configured, tokens of the external identity provider.
func userFromToken(app *App, token string) (*AppUser, bool) {
	if app.Auth != nil {
		if claims, err := app.Auth.Parse(token); err == nil {
			return newAppUser(claims.Subject, claims.Role, nil), true
		}
	}
	if app.Key == nil {
		return nil, false
	}

	parsed, err := jwt.Parse(token, app.Key.Keyfunc)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		userID, _ = claims["id"].(string)
	}
	if userID == "" {
		return nil, false
	}
	role, _ := claims["role"].(string)

	var permissions []string
	if permsClaim, ok := claims["permissions"].([]any); ok {
		for _, p := range permsClaim {
			if pStr, ok := p.(string); ok {
				permissions = append(permissions, pStr)
			}
		}
	}
	return newAppUser(userID, role, permissions), true
}

func newAppUser(userID, role string, permissions []string) *AppUser {
	if role == "" {
		role = "user"
	}
	if role == "admin" && len(permissions) == 0 {
		permissions = allPermissions
	}
	return &AppUser{
		UserID:      userID,
		Role:        role,
		Permissions: permissions,
	}
}
