package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/insight/backend/internal/queue"
	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/graph"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// outcomeStatus is the HTTP status of a finished synchronous run.
func outcomeStatus(out graph.Outcome) int {
	if out.Error == nil {
		return http.StatusOK
	}
	switch out.Error.Category {
	case common.CategoryInvalidInput:
		return http.StatusBadRequest
	case common.CategoryExternalCallFailed, common.CategoryMalformedResponse:
		return http.StatusBadGateway
	case common.CategoryCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AnalyzeSessionHandler runs the pipeline for a session. With ?async=true
// the run is queued and 202 is returned.
func AnalyzeSessionHandler(c echo.Context) error {
	type analyzeData struct {
		ID         string   `param:"id" validate:"required"`
		Transcript string   `json:"transcript"`
		Kinds      []string `json:"kinds"`
	}

	data := new(analyzeData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	kinds := make([]common.ElementKind, 0, len(data.Kinds))
	for _, k := range data.Kinds {
		kind, err := common.ParseElementKind(k)
		if err != nil {
			return errorResponse(c, err)
		}
		kinds = append(kinds, kind)
	}

	ctx := c.Request().Context()
	a := app(c)
	if _, err := a.Graph.GetSession(ctx, user.UserID, data.ID); err != nil {
		return errorResponse(c, err)
	}

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		if a.Queue == nil {
			return message(c, http.StatusServiceUnavailable, "Asynchronous analysis is not configured")
		}
		correlationID := util.MustNewID()
		err := queue.PublishAnalysis(ctx, a.Queue, queue.AnalysisMsg{
			UserID:        user.UserID,
			SessionID:     data.ID,
			Transcript:    data.Transcript,
			EnabledKinds:  kinds,
			CorrelationID: correlationID,
		})
		if err != nil {
			logger.Error("Failed to enqueue analysis", "session_id", data.ID, "err", err)
			return message(c, http.StatusInternalServerError, "Internal server error")
		}
		return c.JSON(http.StatusAccepted, map[string]string{
			"message":        "Analysis queued",
			"correlation_id": correlationID,
		})
	}

	out := a.Pipeline.RunSessionAnalysis(ctx, graph.Request{
		UserID:       user.UserID,
		SessionID:    data.ID,
		Transcript:   data.Transcript,
		EnabledKinds: kinds,
	})
	return c.JSON(outcomeStatus(out), out)
}

// GetSessionAnalysisHandler returns the session with its element
// occurrences grouped by kind.
func GetSessionAnalysisHandler(c echo.Context) error {
	type analysisResponse struct {
		Session  common.Session                        `json:"session"`
		Elements map[string][]common.ElementOccurrence `json:"elements"`
		Topics   []string                              `json:"topics"`
	}

	params := new(sessionParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionViewAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	ctx := c.Request().Context()
	g := app(c).Graph
	sess, err := g.GetSession(ctx, userID, params.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	occ, err := g.GetSessionAnalysis(ctx, userID, params.ID)
	if err != nil {
		return errorResponse(c, err)
	}

	resp := analysisResponse{
		Session:  sess,
		Elements: make(map[string][]common.ElementOccurrence, len(common.AllKinds())),
		Topics:   common.TimelineSession{Occurrences: occ}.Topics(),
	}
	for _, k := range common.AllKinds() {
		resp.Elements[k.ResponseKey()] = []common.ElementOccurrence{}
	}
	for _, o := range occ {
		resp.Elements[o.Kind.ResponseKey()] = append(resp.Elements[o.Kind.ResponseKey()], o)
	}
	if resp.Topics == nil {
		resp.Topics = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

func GetTimelineHandler(c echo.Context) error {
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionViewAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	timeline, err := app(c).Graph.GetUserTimeline(c.Request().Context(), userID)
	if err != nil {
		return errorResponse(c, err)
	}
	if timeline == nil {
		timeline = []common.TimelineSession{}
	}
	return c.JSON(http.StatusOK, timeline)
}
