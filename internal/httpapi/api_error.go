package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/spider-clash/internal/model"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   "validate_request",
		Hint:    hint,
	}, nil)
}

var errNotReady = apiError(http.StatusServiceUnavailable, model.AppError{
	Code:    "NOT_READY",
	Message: "尚未完成首次运行",
	Stage:   "serve",
	Hint:    "retry after the first run finishes",
}, nil)

func (s *server) writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ae *APIError
	if errors.As(err, &ae) {
		s.writeError(w, ae.Status, ae.AppError)
		return
	}

	// Fallback: internal bug.
	s.writeError(w, http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	})
}

func (s *server) writeError(w http.ResponseWriter, status int, e model.AppError) {
	s.opt.Metrics.IncAppError(e.Stage, e.Code)
	WriteError(w, status, e)
}

func modelNotFound(set string) model.AppError {
	return model.AppError{
		Code:    "SET_NOT_FOUND",
		Message: "该节点集合未生成",
		Stage:   "serve",
		Hint:    "set=" + set + " is empty when probing is skipped",
	}
}
