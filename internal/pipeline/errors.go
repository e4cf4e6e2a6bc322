package pipeline

import (
	"errors"
	"fmt"

	"github.com/John-Robertt/spider-clash/internal/extract"
	"github.com/John-Robertt/spider-clash/internal/fetch"
	"github.com/John-Robertt/spider-clash/internal/model"
	"github.com/John-Robertt/spider-clash/internal/sub"
)

// ErrNoLinks means discovery produced nothing to decode.
var ErrNoLinks = errors.New("no links found")

// FatalError ends a run in the failed state. Everything else a run hits is
// recorded in the run log and the run carries on.
type FatalError struct {
	AppError model.AppError
	Cause    error
}

func (e *FatalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

func fatal(stage model.RunState, code, message string, cause error) *FatalError {
	return &FatalError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   string(stage),
		},
		Cause: cause,
	}
}

// appErrorOf digs the AppError out of the typed errors a run can meet.
func appErrorOf(err error) (model.AppError, bool) {
	var fa *FatalError
	if errors.As(err, &fa) {
		return fa.AppError, true
	}
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.AppError, true
	}
	var pe *sub.ParseError
	if errors.As(err, &pe) {
		return pe.AppError, true
	}
	var de *extract.DecodeError
	if errors.As(err, &de) {
		return de.AppError, true
	}
	return model.AppError{}, false
}

// describe flattens err into a run log line.
func describe(err error) string {
	var fa *FatalError
	if errors.As(err, &fa) && fa.Cause != nil {
		return fa.AppError.String() + ": " + fa.Cause.Error()
	}
	if app, ok := appErrorOf(err); ok {
		return app.String()
	}
	return err.Error()
}
