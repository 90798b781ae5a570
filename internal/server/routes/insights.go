package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/pkg/insights"

	"github.com/labstack/echo/v4"
)

// insightResult is returned by every insight endpoint. Data is null when
// the timeline holds too little to compute the insight.
type insightResult struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

func insightResponse(c echo.Context, data any, empty bool) error {
	if empty {
		return c.JSON(http.StatusOK, insightResult{Message: "Not enough analyzed sessions"})
	}
	return c.JSON(http.StatusOK, insightResult{Data: data})
}

func insightUser(c echo.Context) (string, bool) {
	return middleware.TargetUserID(c, middleware.PermSessionViewAll)
}

func TurningPointHandler(c echo.Context) error {
	type turningPointParams struct {
		Emotion string `query:"emotion"`
	}

	params := new(turningPointParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	tp, err := app(c).Insights.TurningPoint(c.Request().Context(), userID, strings.ToLower(strings.TrimSpace(params.Emotion)))
	if err != nil {
		return errorResponse(c, err)
	}
	return insightResponse(c, tp, tp == nil)
}

func CorrelationsHandler(c echo.Context) error {
	type correlationsParams struct {
		Limit int `query:"limit" validate:"min=0,max=100"`
	}

	params := new(correlationsParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	if params.Limit == 0 {
		params.Limit = 10
	}
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	corr, err := app(c).Insights.Correlations(c.Request().Context(), userID, params.Limit)
	if err != nil {
		return errorResponse(c, err)
	}
	if corr == nil {
		corr = []insights.Correlation{}
	}
	return insightResponse(c, corr, false)
}

func ChallengePersistenceHandler(c echo.Context) error {
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	challenges, err := app(c).Insights.ChallengePersistence(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	if challenges == nil {
		challenges = []insights.ChallengePersistence{}
	}
	return insightResponse(c, challenges, false)
}

func FuturePredictionHandler(c echo.Context) error {
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	pred, err := app(c).Insights.FuturePrediction(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	return insightResponse(c, pred, pred == nil)
}

func CascadeMapHandler(c echo.Context) error {
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	cascade, err := app(c).Insights.CascadeMap(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	return insightResponse(c, cascade, cascade == nil)
}

func AllInsightsHandler(c echo.Context) error {
	userID, ok := insightUser(c)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	snap, err := app(c).Insights.Snapshot(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}
