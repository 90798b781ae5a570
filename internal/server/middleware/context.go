package middleware

import (
	"github.com/OFFIS-RIT/insight/backend/internal/auth"
	"github.com/OFFIS-RIT/insight/backend/internal/queue"
	"github.com/OFFIS-RIT/insight/backend/internal/storage"
	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/graph"
	"github.com/OFFIS-RIT/insight/backend/pkg/insights"
	"github.com/OFFIS-RIT/insight/backend/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// HealthCheck reports whether one backing component is reachable.
type HealthCheck struct {
	Name  string
	Check func(c echo.Context) error
}

// App holds the components shared by all handlers. Queue, S3 and Key are
// optional and nil when not configured.
type App struct {
	Graph    store.GraphStorage
	Pipeline *graph.SessionPipeline
	Insights *insights.Service
	Auth     *auth.Service
	AIClient ai.AnalysisAIClient
	Queue    queue.Publisher
	S3       *storage.S3Store
	Key      keyfunc.Keyfunc
	Health   []HealthCheck

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
