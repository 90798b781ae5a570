package openai

import (
	"sync"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// AnalysisOpenAIClient implements ai.AnalysisAIClient against the OpenAI API
// or any OpenAI compatible endpoint. Chat and audio may use different
// endpoints and keys.
//
// An AnalysisOpenAIClient should be created using NewAnalysisOpenAIClient.
type AnalysisOpenAIClient struct {
	analysisModel string
	audioModel    string

	chatURL string

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient  *openai.Client
	AudioClient *openai.Client
}

// NewAnalysisOpenAIClientParams defines the configuration parameters for
// creating a new AnalysisOpenAIClient.
//
// AnalysisModel is used for session analysis, AudioModel for transcription.
// An empty ChatURL or AudioURL uses the public OpenAI endpoint. Without an
// AudioKey the chat credentials are reused for audio.
type NewAnalysisOpenAIClientParams struct {
	AnalysisModel string
	AudioModel    string

	ChatURL  string
	ChatKey  string
	AudioURL string
	AudioKey string
}

// NewAnalysisOpenAIClient creates and returns a new AnalysisOpenAIClient.
//
// Example:
//
//	client := openai.NewAnalysisOpenAIClient(openai.NewAnalysisOpenAIClientParams{
//		AnalysisModel: "gpt-4o-mini",
//		AudioModel:    "whisper-1",
//		ChatKey:       os.Getenv("AI_CHAT_KEY"),
//	})
func NewAnalysisOpenAIClient(
	params NewAnalysisOpenAIClientParams,
) *AnalysisOpenAIClient {
	audioURL, audioKey := params.AudioURL, params.AudioKey
	if audioKey == "" {
		audioURL, audioKey = params.ChatURL, params.ChatKey
	}

	return &AnalysisOpenAIClient{
		analysisModel: params.AnalysisModel,
		audioModel:    params.AudioModel,

		chatURL: params.ChatURL,

		ChatClient:  newOpenaiClient(params.ChatURL, params.ChatKey),
		AudioClient: newOpenaiClient(audioURL, audioKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the session pipeline
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
