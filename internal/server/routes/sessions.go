package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// parseSessionDate accepts RFC 3339 timestamps and plain dates. An empty
// value is now.
func parseSessionDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now.UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: session_date %q is not a date", common.ErrInvalidInput, value)
}

func CreateSessionHandler(c echo.Context) error {
	type createSessionData struct {
		Title       string `json:"title" validate:"required,max=200"`
		Transcript  string `json:"transcript"`
		SessionDate string `json:"session_date"`
	}

	data := new(createSessionData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	date, err := parseSessionDate(data.SessionDate, time.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	sess, err := app(c).Graph.CreateSession(c.Request().Context(), common.Session{
		UserID:      user.UserID,
		Title:       data.Title,
		Transcript:  data.Transcript,
		SessionDate: date,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func ListSessionsHandler(c echo.Context) error {
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionViewAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	sessions, err := app(c).Graph.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	if sessions == nil {
		sessions = []common.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

type sessionParams struct {
	ID string `param:"id" validate:"required"`
}

func GetSessionHandler(c echo.Context) error {
	params := new(sessionParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionViewAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	sess, err := app(c).Graph.GetSession(c.Request().Context(), userID, params.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// EditSessionHandler changes title or transcript until the session is
// analyzed.
func EditSessionHandler(c echo.Context) error {
	type editSessionData struct {
		ID         string `param:"id" validate:"required"`
		Title      string `json:"title" validate:"max=200"`
		Transcript string `json:"transcript"`
	}

	data := new(editSessionData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}
	if data.Title == "" && data.Transcript == "" {
		return message(c, http.StatusBadRequest, "Nothing to update")
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	sess, err := app(c).Graph.UpdateSessionContent(c.Request().Context(), user.UserID, data.ID, data.Title, data.Transcript)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func DeleteSessionHandler(c echo.Context) error {
	params := new(sessionParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionDeleteAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	ctx := c.Request().Context()
	a := app(c)
	if err := a.Graph.DeleteSession(ctx, userID, params.ID); err != nil {
		return errorResponse(c, err)
	}
	if a.S3 != nil {
		err := util.RetryErrWithContext(ctx, 3, func(ctx context.Context) error {
			return a.S3.DeleteSessionObjects(ctx, userID, params.ID)
		})
		if err != nil {
			logger.Warn("Failed to delete session objects", "session_id", params.ID, "err", err)
		}
	}
	return message(c, http.StatusOK, "Session deleted successfully")
}
