package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// Permissions granted to admins. Regular users only ever see their own data.
const (
	PermUserViewAll      = "user.view:all"
	PermSessionViewAll   = "session.view:all"
	PermSessionDeleteAll = "session.delete:all"
)

var allPermissions = []string{
	PermUserViewAll,
	PermSessionViewAll,
	PermSessionDeleteAll,
}

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission)
}

func IsAdmin(user *AppUser) bool {
	if user == nil {
		return false
	}
	return user.Role == "admin"
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if !HasPermission(user, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}

			return next(c)
		}
	}
}

// TargetUserID returns the user whose data a request touches. Admins and
// users holding permission may name another user in the user_id query
// parameter.
func TargetUserID(c echo.Context, permission string) (string, bool) {
	user := c.(*AppContext).User
	if user == nil {
		return "", false
	}
	other := c.QueryParam("user_id")
	if other == "" || other == user.UserID {
		return user.UserID, true
	}
	if !IsAdmin(user) && !HasPermission(user, permission) {
		return "", false
	}
	return other, true
}
