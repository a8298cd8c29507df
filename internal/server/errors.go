// Package server provides the HTTP API over the application pipeline.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/jobhunter/internal/pipeline"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrCapReached):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrInvalid), errors.As(err, &validation), errors.As(err, &fieldErrs):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrScoringUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrSubmitFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// validationMessage flattens validator field errors into one readable line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	msg := fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	if fe.Param() != "" {
		msg += " (" + fe.Param() + ")"
	}
	if len(fieldErrs) > 1 {
		msg += fmt.Sprintf(" and %d more", len(fieldErrs)-1)
	}
	return msg
}
