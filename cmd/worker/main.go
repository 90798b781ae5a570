package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/insight/backend/internal/queue"
	"github.com/OFFIS-RIT/insight/backend/internal/server"
	"github.com/OFFIS-RIT/insight/backend/internal/timing"
	"github.com/OFFIS-RIT/insight/backend/internal/util"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger/console"

	"github.com/rabbitmq/amqp091-go"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
	})
	logger.Init(consoleLogger)

	comps, err := server.NewComponents(ctx)
	if err != nil {
		logger.Fatal("Failed to initialize components", "err", err)
	}
	defer comps.Close()
	app := comps.App

	// Init rabbitmq
	conn, err := util.RetryWithBackoff(ctx, util.BackoffOptions{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
	}, nil, func(context.Context) (*amqp091.Connection, error) {
		return queue.Init()
	})
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.AnalysisQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One message at a time, analyses are long and share the AI backend.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queue.AnalysisQueue,
		queue.AnalysisQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.AnalysisQueue, "err", err)
	}

	maxRetries := util.GetEnvInt("QUEUE_MAX_RETRIES", queue.DefaultMaxRetries)
	logger.Info("Listening for messages", "queue", queue.AnalysisQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.AnalysisQueue)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queue.AnalysisQueue)

			processingErr := queue.ProcessAnalysisMessage(ctx, app.Pipeline, msg.Body)
			if processingErr != nil {
				logger.Error("Error processing message", "queue", queue.AnalysisQueue, "err", processingErr)
				queue.HandleProcessingError(ctx, ch, msg, queue.AnalysisQueue, processingErr, maxRetries)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.AnalysisQueue)
			}

			metrics := app.AIClient.GetMetrics()
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", timing.Clock(timing.Millis(metrics.DurationMs)),
			)
			logger.Info("Processing time", "duration", timing.Clock(time.Since(startTime)))
			logger.Info("Waiting for next message")
			app.AIClient.ResetMetrics()
		}
	}
}
