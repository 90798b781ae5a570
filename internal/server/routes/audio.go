package routes

import (
	"bytes"
	"io"
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/insight/backend/internal/storage"
	"github.com/OFFIS-RIT/insight/backend/pkg/common"
	"github.com/OFFIS-RIT/insight/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

const maxAudioSize = 25 << 20

// UploadAudioHandler stores a recording, transcribes it and writes the
// transcript to the session.
func UploadAudioHandler(c echo.Context) error {
	type uploadAudioData struct {
		ID       string `param:"id" validate:"required"`
		Language string `form:"language"`
	}

	data := new(uploadAudioData)
	if !bindAndValidate(c, data) {
		return invalidParams(c)
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	a := app(c)
	if a.S3 == nil {
		return message(c, http.StatusServiceUnavailable, "Audio storage is not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return message(c, http.StatusBadRequest, "Missing audio file")
	}
	if !slices.Contains(storage.AudioExtensions, storage.Extension(file.Filename)) {
		return message(c, http.StatusBadRequest, "Unsupported audio format")
	}
	if file.Size > maxAudioSize {
		return message(c, http.StatusRequestEntityTooLarge, "Audio file too large")
	}

	ctx := c.Request().Context()
	sess, err := a.Graph.GetSession(ctx, user.UserID, data.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	if sess.Status == common.StatusAnalyzed || sess.Status == common.StatusAnalyzing {
		return errorResponse(c, common.ErrSessionLocked)
	}

	src, err := file.Open()
	if err != nil {
		return message(c, http.StatusBadRequest, "Unreadable audio file")
	}
	defer src.Close()
	audio, err := io.ReadAll(src)
	if err != nil {
		return message(c, http.StatusBadRequest, "Unreadable audio file")
	}

	key := storage.AudioKey(user.UserID, data.ID, file.Filename)
	if err := a.S3.PutFile(ctx, key, bytes.NewReader(audio)); err != nil {
		logger.Error("Failed to upload audio", "session_id", data.ID, "err", err)
		return message(c, http.StatusInternalServerError, "Internal server error")
	}
	if err := a.Graph.SetSessionAudio(ctx, user.UserID, data.ID, key); err != nil {
		return errorResponse(c, err)
	}

	transcript, err := a.AIClient.GenerateAudioTranscription(ctx, audio, file.Filename, data.Language)
	if err != nil {
		logger.Error("Failed to transcribe audio", "session_id", data.ID, "err", err)
		return message(c, http.StatusBadGateway, "Transcription failed")
	}

	sess, err = a.Graph.UpdateSessionContent(ctx, user.UserID, data.ID, "", transcript)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// GetAudioHandler returns a presigned download link for the recording.
func GetAudioHandler(c echo.Context) error {
	params := new(sessionParams)
	if !bindAndValidate(c, params) {
		return invalidParams(c)
	}
	user := currentUser(c)
	if user == nil {
		return message(c, http.StatusUnauthorized, "Unauthorized")
	}

	a := app(c)
	if a.S3 == nil {
		return message(c, http.StatusServiceUnavailable, "Audio storage is not configured")
	}
	ctx := c.Request().Context()
	sess, err := a.Graph.GetSession(ctx, user.UserID, params.ID)
	if err != nil {
		return errorResponse(c, err)
	}
	if sess.AudioKey == "" {
		return message(c, http.StatusNotFound, "Session has no audio")
	}

	url, err := a.S3.GenerateDownloadLink(ctx, sess.AudioKey)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}
