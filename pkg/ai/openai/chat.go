package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the generated completion as plain text.
//
// Errors are classified into the external call taxonomy: HTTP 429 becomes
// common.ErrRateLimited, 408 and 504 as well as client side deadlines become
// common.ErrTimeout and everything else common.ErrServiceError.
//
// Example:
//
//	resp, err := client.GenerateCompletion(ctx, prompt, ai.WithJSONMode())
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(resp)
func (c *AnalysisOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	client := c.ChatClient
	if client == nil {
		return "", common.ExternalCallError(common.ErrServiceError, errors.New("chat client not configured"))
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.analysisModel,
		Temperature: 0.2,
	}, opts...)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	if options.JSONMode {
		body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	if options.Thinking != "" {
		// reasoning models on the public endpoint only accept temperature 1
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	start := time.Now()
	response, err := client.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", classify(err)
	}
	duration := time.Since(start).Milliseconds()

	c.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   duration,
	})

	if len(response.Choices) == 0 {
		return "", common.ExternalCallError(common.ErrServiceError, errors.New("no choices in response from model"))
	}
	content := response.Choices[0].Message.Content
	if content == "" {
		return "", common.ExternalCallError(
			common.ErrServiceError,
			fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason),
		)
	}
	return content, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ai.ClassifyStatus(apiErr.StatusCode, err)
	}
	return ai.ClassifyError(err)
}
