package ollama

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

var errAudioUnsupported = errors.New("audio transcription is not supported by ollama")

// GenerateAudioTranscription is not available on Ollama. Configure an
// OpenAI compatible audio endpoint instead.
func (c *AnalysisOllamaClient) GenerateAudioTranscription(
	ctx context.Context,
	audio []byte,
	filename string,
	language string,
) (string, error) {
	return "", common.ExternalCallError(common.ErrServiceError, errAudioUnsupported)
}
