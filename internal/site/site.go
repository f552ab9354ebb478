// Package site isolates every piece of job-portal DOM knowledge behind a small
// set of interfaces. The orchestrator drives these interfaces; the chromedp
// implementation and its selector table live here, and tests use sitetest fakes.
package site

import (
	"context"
	"fmt"

	"github.com/jonathan/apply-autopilot/internal/types"
)

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one logged-in (or logging-in) browser.
type Session interface {
	// Login fills and submits the portal login form.
	Login(ctx context.Context, creds types.Credentials) error
	// LoginPending reports whether login-page markers are still present.
	LoginPending(ctx context.Context) (bool, error)
	// ListingURLs navigates to a results page and returns the absolute listing URLs on it.
	ListingURLs(ctx context.Context, pageURL string) ([]string, error)
	// OpenJob opens a listing in its own tab.
	OpenJob(ctx context.Context, listingURL string) (JobPage, error)
	// Close releases the browser and every tab it owns.
	Close() error
}

// JobPage is a single listing opened in an isolated tab.
type JobPage interface {
	// Inspect reads match signals, metadata, and the apply path from the page.
	Inspect(ctx context.Context) (JobDetail, error)
	// Apply clicks the native apply control.
	Apply(ctx context.Context) error
	// PollChat reads the current state of the application chatbot.
	PollChat(ctx context.Context) (ChatState, error)
	// Answer replies to a question. For choice questions value is an option ID.
	Answer(ctx context.Context, q Question, value string) error
	// Close closes the tab.
	Close() error
}

// JobDetail is everything the evaluator needs from a job page.
type JobDetail struct {
	Signals   types.MatchSignals
	Metadata  types.JobMetadata
	ApplyPath types.ApplyPathKind
}

// QuestionKind distinguishes option pickers from free-text prompts.
type QuestionKind string

// QuestionKind values
const (
	QuestionChoice QuestionKind = "choice"
	QuestionText   QuestionKind = "text"
)

// Option is one selectable answer of a choice question.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is the latest unanswered chatbot prompt.
type Question struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Kind    QuestionKind `json:"kind"`
	Options []Option     `json:"options,omitempty"`
}

// ChatState is a snapshot of the application chatbot.
type ChatState struct {
	Question  *Question
	Open      bool
	Submitted bool
	Error     string
}

// LaunchError reports a browser that could not be started.
type LaunchError struct {
	Cause error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed: %v", e.Cause)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}
