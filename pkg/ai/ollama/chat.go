package ollama

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/ollama/ollama/api"
)

const (
	defaultContextTokens = 4096
	contextHeadroom      = 1024
)

// GenerateCompletion sends a single-turn prompt and returns assistant text.
// The context window is widened when the prompt would not fit into the
// model default.
func (c *AnalysisOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.analysisModel,
		Temperature: 0.2,
	}, opts...)

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if options.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}

	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	tokens := contextHeadroom
	for _, m := range msgs {
		tokens += c.tokens(m.Content)
	}
	if tokens > defaultContextTokens {
		req.Options["num_ctx"] = tokens
	}

	var final api.ChatResponse
	if err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", classify(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	if final.Message.Content == "" {
		return "", common.ExternalCallError(common.ErrServiceError, errors.New("empty response from model"))
	}
	return final.Message.Content, nil
}

func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ai.ClassifyStatus(statusErr.StatusCode, err)
	}
	return ai.ClassifyError(err)
}
