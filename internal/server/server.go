package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/queue"
	mid "github.com/OFFIS-RIT/insight/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rabbitmq/amqp091-go"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewEcho creates the echo instance with validation, shared middlewares and
// all routes.
func NewEcho(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	if origins := util.GetEnvList("CORS_ORIGINS"); len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: origins}))
	} else {
		e.Use(middleware.CORS())
	}
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64M"))

	RegisterRoutes(e)
	return e
}

// connectQueue opens the analysis queue. The server runs without it and
// rejects asynchronous analysis requests.
func connectQueue(app *mid.App) (*amqp091.Connection, *amqp091.Channel) {
	if util.GetEnv("RABBITMQ_HOST") == "" {
		logger.Info("RABBITMQ_HOST not set, asynchronous analysis is disabled")
		return nil, nil
	}
	conn, err := queue.Init()
	if err != nil {
		logger.Warn("Queue unavailable, asynchronous analysis is disabled", "err", err)
		return nil, nil
	}
	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("Failed to open channel", "err", err)
		conn.Close()
		return nil, nil
	}
	if err := queue.SetupQueues(ch, []string{queue.AnalysisQueue}); err != nil {
		logger.Warn("Failed to declare queues", "err", err)
		ch.Close()
		conn.Close()
		return nil, nil
	}

	app.Queue = ch
	app.Health = append(app.Health, mid.HealthCheck{
		Name: "rabbitmq",
		Check: func(c echo.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	})
	return conn, ch
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := NewComponents(ctx)
	if err != nil {
		logger.Fatal("Failed to initialize components", "err", err)
	}
	defer comps.Close()

	conn, ch := connectQueue(comps.App)
	if conn != nil {
		defer conn.Close()
		defer ch.Close()
	}

	e := NewEcho(comps.App)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
