package ai

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/OFFIS-RIT/insight/backend/pkg/common"
)

// ClassifyStatus maps an HTTP status code returned by a model API to the
// external call taxonomy.
func ClassifyStatus(status int, cause error) error {
	switch status {
	case http.StatusTooManyRequests:
		return common.ExternalCallError(common.ErrRateLimited, cause)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return common.ExternalCallError(common.ErrTimeout, cause)
	}
	return common.ExternalCallError(common.ErrServiceError, cause)
}

// ClassifyError maps transport level errors to the external call taxonomy.
// Cancellation by the caller is passed through untouched.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrExternalCall) || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ExternalCallError(common.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.ExternalCallError(common.ErrTimeout, err)
	}
	return common.ExternalCallError(common.ErrServiceError, err)
}
