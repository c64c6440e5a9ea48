package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"torg12-server/internal/cache"
	"torg12-server/internal/cellref"
	"torg12-server/internal/models"
	"torg12-server/internal/session"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAppError       = -32000
)

// paramError marks a JSON-RPC request whose params are missing or malformed.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string) error {
	return &paramError{msg: msg}
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	var (
		httpErr    *echo.HTTPError
		unreadable *models.UnreadableFileError
		badAddr    *cellref.InvalidAddressError
		badParams  *paramError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.As(err, &unreadable):
		return http.StatusUnprocessableEntity
	case errors.As(err, &badAddr), errors.As(err, &badParams):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTokenInvalid),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrTokenStale):
		return http.StatusUnauthorized
	case errors.Is(err, cache.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// rpcCode maps a tool error to a JSON-RPC error code.
func rpcCode(err error) int {
	var badParams *paramError
	var badAddr *cellref.InvalidAddressError
	if errors.As(err, &badParams) || errors.As(err, &badAddr) {
		return codeInvalidParams
	}
	return codeAppError
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// handleError is the echo error handler: every failure becomes a JSON body
// with the mapped status.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg = http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	body := errorBody{
		Error:     msg,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Error("Failed to write error response", zap.Error(err))
	}
}
