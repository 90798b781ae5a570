package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentRequests = 4

// AnalysisOllamaClient implements the ai.AnalysisAIClient interface using
// Ollama as the backend. Requests are bounded by a semaphore so a local
// model server is not flooded by concurrent session analyses.
type AnalysisOllamaClient struct {
	analysisModel string

	reqLock *semaphore.Weighted
	tokens  ai.TokenCounter

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewAnalysisOllamaClientParams contains configuration options for creating a new AnalysisOllamaClient.
type NewAnalysisOllamaClientParams struct {
	AnalysisModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewAnalysisOllamaClient creates a new Ollama-based AI client.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewAnalysisOllamaClient(
	params NewAnalysisOllamaClientParams,
) (*AnalysisOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	tokens, err := ai.NewTokenCounter(ai.DefaultEncoding)
	if err != nil {
		return nil, err
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentRequests
	}

	return &AnalysisOllamaClient{
		analysisModel: params.AnalysisModel,

		reqLock: semaphore.NewWeighted(maxConcurrent),
		tokens:  tokens,

		Client: api.NewClient(u, httpClient),
	}, nil
}
