package openai

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/insight/backend/pkg/ai"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"

	"github.com/openai/openai-go/v3"
)

// GenerateAudioTranscription transcribes audio data to text using the configured audio model.
// The filename extension tells the API the container format. The language
// parameter is optional and can be used to hint the expected language.
func (c *AnalysisOpenAIClient) GenerateAudioTranscription(
	ctx context.Context,
	audio []byte,
	filename string,
	language string,
) (string, error) {
	client := c.AudioClient
	if client == nil {
		return "", common.ExternalCallError(common.ErrServiceError, errors.New("audio client not configured"))
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filepath.Base(filename), contentType),
		Model: openai.AudioModel(c.audioModel),
	}

	if language != "" {
		params.Language = openai.String(language)
	}

	start := time.Now()
	transcription, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	// no token usage is reported for audio
	c.modifyMetrics(ai.ModelMetrics{
		Requests:   1,
		DurationMs: time.Since(start).Milliseconds(),
	})

	return transcription.Text, nil
}
