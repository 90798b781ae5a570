package routes

import (
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/pkg/analysis"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

func ListElementsHandler(c echo.Context) error {
	type listElementsParams struct {
		Kind string `param:"kind" validate:"required"`
	}

	params := new(listElementsParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	kind, err := common.ParseElementKind(params.Kind)
	if err != nil {
		return errorResponse(c, err)
	}
	userID, ok := middleware.TargetUserID(c, middleware.PermSessionViewAll)
	if !ok {
		return message(c, http.StatusForbidden, "Forbidden")
	}

	nodes, err := app(c).Graph.ListElements(c.Request().Context(), userID, kind)
	if err != nil {
		return errorResponse(c, err)
	}
	if nodes == nil {
		nodes = []common.ElementNode{}
	}
	return c.JSON(http.StatusOK, nodes)
}

func UpdateActionItemHandler(c echo.Context) error {
	type updateActionItemData struct {
		Name   string `param:"name" validate:"required"`
		Status string `json:"status" validate:"required,oneof=pending completed"`
	}

	data := new(updateActionItemData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}
	name, err := url.PathUnescape(data.Name)
	if err != nil {
		return invalidParams(c)
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	node, err := app(c).Graph.UpdateActionItemStatus(
		c.Request().Context(),
		user.UserID,
		analysis.Normalize(name),
		data.Status,
	)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, node)
}
