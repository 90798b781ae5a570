package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/insight/backend/internal/auth"
	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

func app(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

func currentUser(c echo.Context) *middleware.AppUser {
	return c.(*middleware.AppContext).User
}

// message answers with {"message": msg}, or {"error": msg} for error statuses.
func message(c echo.Context, status int, msg string) error {
	key := "message"
	if status >= http.StatusBadRequest {
		key = "error"
	}
	return c.JSON(status, map[string]string{key: msg})
}

func invalidParams(c echo.Context) error {
	return message(c, http.StatusBadRequest, "Invalid request params")
}

// bindAndValidate binds params and runs the validator on them.
func bindAndValidate(c echo.Context, params any) bool {
	if err := c.Bind(params); err != nil {
		return false
	}
	return c.Validate(params) == nil
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrSessionLocked), errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "path", c.Path(), "err", err)
		if util.GetEnvBool("DEBUG", false) {
			return message(c, status, err.Error())
		}
		return message(c, status, "Internal server error")
	}
	return message(c, status, err.Error())
}
