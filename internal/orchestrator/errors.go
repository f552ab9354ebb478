package orchestrator

import "fmt"

// AuthenticationError reports a login that failed or never completed. It is
// fatal to the run and never retried.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Cause)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// JobError is a failure while processing one listing. It is caught at the job
// boundary and recorded as a skipped outcome.
type JobError struct {
	URL   string
	Stage string
	Cause error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed at %s: %v", e.URL, e.Stage, e.Cause)
}

func (e *JobError) Unwrap() error {
	return e.Cause
}

// Reason is the outcome reason recorded for the failure.
func (e *JobError) Reason() string {
	return "error: " + e.Stage
}
