package routes

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

func RegisterHandler(c echo.Context) error {
	type registerData struct {
		Email    string `json:"email" validate:"required,email"`
		Name     string `json:"name"`
		Password string `json:"password" validate:"required,min=8"`
	}

	data := new(registerData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}

	user, err := app(c).Auth.Register(c.Request().Context(), data.Email, data.Name, data.Password)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

func LoginHandler(c echo.Context) error {
	type loginData struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	type loginResponse struct {
		Token     string      `json:"token"`
		ExpiresAt time.Time   `json:"expires_at"`
		User      common.User `json:"user"`
	}

	data := new(loginData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}

	token, exp, user, err := app(c).Auth.Login(c.Request().Context(), data.Email, data.Password)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: user})
}

// MeHandler returns the authenticated user. Users only known to an external
// identity provider get their token data.
func MeHandler(c echo.Context) error {
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	u, err := app(c).Auth.User(c.Request().Context(), user.UserID)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"id":          user.UserID,
			"role":        user.Role,
			"permissions": user.Permissions,
		})
	}
	return c.JSON(http.StatusOK, u)
}

func GetUserHandler(c echo.Context) error {
	type getUserParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(getUserParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}

	u, err := app(c).Auth.User(c.Request().Context(), params.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// LogoutHandler exists for clients that expect it. Tokens are stateless, so
// the client discards its token and an API key is revoked separately.
func LogoutHandler(c echo.Context) error {
	return message(c, http.StatusOK, "Logged out successfully")
}

func ChangePasswordHandler(c echo.Context) error {
	type changePasswordData struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}

	data := new(changePasswordData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}

	user := currentUser(c)
	err := app(c).Auth.ChangePassword(c.Request().Context(), user.UserID, data.CurrentPassword, data.NewPassword)
	if err != nil {
		return errorResponse(c, err)
	}
	return message(c, http.StatusOK, "Password updated successfully")
}

func ListCredentialsHandler(c echo.Context) error {
	creds, err := app(c).Auth.Credentials(c.Request().Context(), currentUser(c).UserID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, creds)
}

// GenerateAPIKeyHandler returns a new API key. It is shown only once.
func GenerateAPIKeyHandler(c echo.Context) error {
	type apiKeyResponse struct {
		APIKey    string    `json:"api_key"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	key, exp, err := app(c).Auth.GenerateAPIKey(c.Request().Context(), currentUser(c).UserID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, apiKeyResponse{APIKey: key, ExpiresAt: exp})
}

func RevokeAPIKeyHandler(c echo.Context) error {
	if err := app(c).Auth.RevokeAPIKey(c.Request().Context(), currentUser(c).UserID); err != nil {
		return errorResponse(c, err)
	}
	return message(c, http.StatusOK, "API key revoked")
}
