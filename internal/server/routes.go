package server

import (
	"github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/server/routes"
	"github.com/OFFIS-RIT/insight/backend/pkg/metrics"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Operational routes
	e.GET("/health", routes.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Public auth routes
	e.POST("/api/auth/register", routes.RegisterHandler)
	e.POST("/api/auth/login", routes.LoginHandler)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Account routes
	apiRoutes.POST("/auth/logout", routes.LogoutHandler)
	apiRoutes.GET("/auth/credentials", routes.ListCredentialsHandler)
	apiRoutes.PUT("/auth/credentials/password", routes.ChangePasswordHandler)
	apiRoutes.POST("/auth/credentials/api-key", routes.GenerateAPIKeyHandler)
	apiRoutes.DELETE("/auth/credentials/api-key", routes.RevokeAPIKeyHandler)

	// User routes
	apiRoutes.GET("/me", routes.MeHandler)
	apiRoutes.GET("/users/:id", routes.GetUserHandler, middleware.RequirePermission(middleware.PermUserViewAll))

	// Session routes
	apiRoutes.GET("/sessions", routes.ListSessionsHandler)
	apiRoutes.POST("/sessions", routes.CreateSessionHandler)
	apiRoutes.GET("/sessions/:id", routes.GetSessionHandler)
	apiRoutes.PATCH("/sessions/:id", routes.EditSessionHandler)
	apiRoutes.DELETE("/sessions/:id", routes.DeleteSessionHandler)
	apiRoutes.POST("/sessions/:id/audio", routes.UploadAudioHandler)
	apiRoutes.GET("/sessions/:id/audio", routes.GetAudioHandler)

	// Analysis routes
	apiRoutes.POST("/sessions/:id/analyze", routes.AnalyzeSessionHandler)
	apiRoutes.GET("/sessions/:id/analysis", routes.GetSessionAnalysisHandler)
	apiRoutes.GET("/timeline", routes.GetTimelineHandler)

	// Element routes
	apiRoutes.GET("/elements/:kind", routes.ListElementsHandler)
	apiRoutes.PATCH("/action-items/:name", routes.UpdateActionItemHandler)

	// Insight routes
	apiRoutes.GET("/insights/turning-point", routes.TurningPointHandler)
	apiRoutes.GET("/insights/correlations", routes.CorrelationsHandler)
	apiRoutes.GET("/insights/challenge-persistence", routes.ChallengePersistenceHandler)
	apiRoutes.GET("/insights/future-prediction", routes.FuturePredictionHandler)
	apiRoutes.GET("/insights/cascade-map", routes.CascadeMapHandler)
	apiRoutes.GET("/insights/all", routes.AllInsightsHandler)
}
