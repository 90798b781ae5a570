package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/graph"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DefaultMaxRetries = 5
	retriesHeader     = "x-retries"
)

// ErrPoisonMessage marks a message that can never be processed.
var ErrPoisonMessage = errors.New("undecodable message")

// AnalysisMsg asks the worker to analyze one session.
type AnalysisMsg struct {
	UserID        string               `json:"user_id"`
	SessionID     string               `json:"session_id"`
	Transcript    string               `json:"transcript,omitempty"`
	EnabledKinds  []common.ElementKind `json:"enabled_kinds,omitempty"`
	CorrelationID string               `json:"correlation_id"`
}

// AnalysisRunner runs the session pipeline.
type AnalysisRunner interface {
	RunSessionAnalysis(ctx context.Context, req graph.Request) graph.Outcome
}

func PublishAnalysis(ctx context.Context, ch Publisher, msg AnalysisMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ctx, ch, AnalysisQueue, data, nil)
}

// Retryable reports whether a failed run is worth another delivery. Other
// failures are final and already recorded on the session.
func Retryable(category common.ErrorCategory) bool {
	return category == common.CategoryCancelled || category == common.CategoryInternal
}

// ProcessAnalysisMessage runs the pipeline for one message. It returns nil
// once the session reached a final state, including a recorded failure.
func ProcessAnalysisMessage(ctx context.Context, runner AnalysisRunner, body []byte) error {
	var msg AnalysisMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrPoisonMessage, err)
	}
	if msg.UserID == "" || msg.SessionID == "" {
		return fmt.Errorf("%w: user_id and session_id are required", ErrPoisonMessage)
	}

	logger.Info("[Queue] Analyzing session",
		"session_id", msg.SessionID,
		"correlation_id", msg.CorrelationID,
	)
	outcome := runner.RunSessionAnalysis(ctx, graph.Request{
		UserID:       msg.UserID,
		SessionID:    msg.SessionID,
		Transcript:   msg.Transcript,
		EnabledKinds: msg.EnabledKinds,
	})
	if outcome.Error == nil {
		return nil
	}
	if Retryable(outcome.Error.Category) {
		return outcome.Err()
	}
	logger.Warn("[Queue] Session analysis failed permanently",
		"session_id", msg.SessionID,
		"category", outcome.Error.Category,
	)
	return nil
}

// Route is where a failed message is published next.
type Route struct {
	Queue   string
	Headers amqp091.Table
	Dead    bool
}

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// NextRoute sends poison messages and messages out of retries to the dead
// letter queue and everything else to the retry queue.
func NextRoute(queueName string, headers amqp091.Table, err error, maxRetries int) Route {
	retries := retryCount(headers)
	out := amqp091.Table{}
	maps.Copy(out, headers)

	if errors.Is(err, ErrPoisonMessage) || retries >= maxRetries {
		return Route{Queue: queueName + dlqSuffix, Headers: out, Dead: true}
	}
	out[retriesHeader] = int32(retries + 1)
	return Route{Queue: queueName + retrySuffix, Headers: out}
}

// HandleProcessingError republishes msg along NextRoute and acks it. If the
// publish fails the message is requeued.
func HandleProcessingError(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, err error, maxRetries int) {
	route := NextRoute(queueName, msg.Headers, err, maxRetries)
	if route.Dead {
		logger.Warn("[Queue] Sending message to DLQ", "dlq", route.Queue, "err", err)
	} else {
		logger.Info("[Queue] Scheduling retry", "queue", route.Queue, "retry", route.Headers[retriesHeader])
	}

	if pubErr := PublishFIFO(context.WithoutCancel(ctx), ch, route.Queue, msg.Body, route.Headers); pubErr != nil {
		logger.Error("[Queue] Failed to republish message", "queue", route.Queue, "err", pubErr)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error("[Queue] Failed to ack message", "err", ackErr)
	}
}
