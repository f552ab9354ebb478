package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/apply-autopilot/internal/orchestrator"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// ConfigError reports a run configuration that failed validation.
type ConfigError struct {
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid run configuration: %v", e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// classify renders a run failure for callers: no stack traces, no secrets.
func classify(err error) string {
	var authErr *orchestrator.AuthenticationError
	var launchErr *site.LaunchError
	switch {
	case errors.Is(err, types.ErrNotConfigured):
		return "portal credentials are not configured"
	case errors.As(err, &authErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return "authentication failed: timed out"
		}
		return "authentication failed"
	case errors.As(err, &launchErr):
		return "browser could not be started"
	case errors.Is(err, context.Canceled):
		return "run cancelled"
	}
	return err.Error()
}
