package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HealthHandler runs every configured check and answers 503 if one fails.
func HealthHandler(c echo.Context) error {
	type healthResponse struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}

	resp := healthResponse{Status: "ok", Components: map[string]string{}}
	status := http.StatusOK
	for _, check := range app(c).Health {
		if err := check.Check(c); err != nil {
			logger.Warn("Health check failed", "component", check.Name, "err", err)
			resp.Components[check.Name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[check.Name] = "ok"
	}
	return c.JSON(status, resp)
}
