package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediarag/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Collection string `json:"collection,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput, apperr.KindInvalidParameter,
		apperr.KindDimensionMismatch, apperr.KindConfirmationRequired:
		return http.StatusBadRequest
	case apperr.KindProvider, apperr.KindAllSourcesFailed:
		return http.StatusBadGateway
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ctx := c.Request().Context()

	status, body := http.StatusInternalServerError, ErrorResponse{
		Error:   string(apperr.KindInternal),
		Message: "internal server error",
	}
	var httpErr *echo.HTTPError
	if e, ok := apperr.As(err); ok {
		status = StatusFor(e.Kind)
		body = ErrorResponse{Error: string(e.Kind), Message: e.Message, Collection: e.Collection}
		if status >= http.StatusInternalServerError {
			s.logger.Error(ctx, "request failed",
				zap.String("kind", string(e.Kind)),
				zap.String("op", e.Op),
				zap.String("detail", e.Detail()),
			)
		}
	} else if errors.As(err, &httpErr) {
		status = httpErr.Code
		body = ErrorResponse{Error: strings.ReplaceAll(http.StatusText(status), " ", "")}
		if msg, ok := httpErr.Message.(string); ok {
			body.Message = msg
		} else {
			body.Message = http.StatusText(status)
		}
	} else {
		s.logger.Error(ctx, "unhandled error", zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn(ctx, "writing error response failed", zap.Error(err))
	}
}
