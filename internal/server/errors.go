// Package server provides the HTTP control plane for the application autopilot.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/supervisor"
	"github.com/jonathan/apply-autopilot/internal/types"
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
	var cfgErr *supervisor.ConfigError
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, types.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &cfgErr), errors.Is(err, runconfig.ErrNoSearchURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text safe to return to clients.
func publicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
