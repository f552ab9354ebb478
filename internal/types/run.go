// Package types provides type definitions for structured data used throughout the application autopilot.
package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxPagesCeiling bounds the number of result pages a single run may visit,
// regardless of what the caller asks for.
const MaxPagesCeiling = 50

// DefaultMaxPages is used when a caller does not specify a page count.
const DefaultMaxPages = 5

// RunState is the lifecycle state of the process-wide automation run.
type RunState string

// RunState values
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateStopping  RunState = "stopping"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// Active reports whether a run currently owns the browser and the run lock.
func (s RunState) Active() bool {
	return s == RunStateRunning || s == RunStateStopping
}

// Terminal reports whether the run has finished and is waiting to be drained.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// CredentialRef is an opaque handle to portal credentials. The secret itself is
// only resolved at the authentication boundary.
type CredentialRef struct {
	UserID uuid.UUID `json:"user_id"`
}

func (r CredentialRef) String() string {
	return "credentials:" + r.UserID.String()
}

// UserProfile is the snapshot of candidate data used to answer application questions.
type UserProfile struct {
	Name              string   `json:"name" validate:"required"`
	Email             string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone             string   `json:"phone,omitempty"`
	TargetRole        string   `json:"target_role,omitempty"`
	CurrentCTC        string   `json:"current_ctc,omitempty"`
	ExpectedCTC       string   `json:"expected_ctc,omitempty"`
	Location          string   `json:"location,omitempty"`
	NoticePeriod      string   `json:"notice_period,omitempty"`
	YearsOfExperience float64  `json:"years_of_experience" validate:"gte=0,lte=60"`
	Skills            []string `json:"skills,omitempty"`
	// SkillExperience maps a skill name to years spent with it. Skills not
	// listed are answered with YearsOfExperience.
	SkillExperience map[string]float64 `json:"skill_experience,omitempty" validate:"omitempty,dive,gte=0,lte=60"`
	ResumeSummary   string             `json:"resume_summary,omitempty"`
}

// Validate checks the profile's field constraints.
func (p UserProfile) Validate() error {
	return validator.New().Struct(p)
}

// RunConfiguration is the immutable input to one automation run.
type RunConfiguration struct {
	UserID      uuid.UUID     `json:"user_id"`
	Credentials CredentialRef `json:"credentials"`
	SearchURL   string        `json:"search_url" validate:"required,url"`
	MaxPages    int           `json:"max_pages" validate:"gte=1,lte=50"`
	Profile     UserProfile   `json:"profile"`
}

// NewRunConfiguration builds a configuration for a user, clamping the page count.
func NewRunConfiguration(userID uuid.UUID, searchURL string, maxPages int, profile UserProfile) RunConfiguration {
	return RunConfiguration{
		UserID:      userID,
		Credentials: CredentialRef{UserID: userID},
		SearchURL:   searchURL,
		MaxPages:    ClampMaxPages(maxPages),
		Profile:     profile,
	}
}

// ClampMaxPages forces a page count into [1, MaxPagesCeiling]; zero or negative
// values fall back to DefaultMaxPages.
func ClampMaxPages(n int) int {
	if n <= 0 {
		return DefaultMaxPages
	}
	if n > MaxPagesCeiling {
		return MaxPagesCeiling
	}
	return n
}

// Validate validates the RunConfiguration using the validator.
func (c RunConfiguration) Validate() error {
	if c.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if c.Credentials.UserID != c.UserID {
		return fmt.Errorf("credential reference does not belong to user %s", c.UserID)
	}
	validate := validator.New()
	return validate.Struct(c)
}

// RunSummary holds the counters reported when a run finishes.
type RunSummary struct {
	PagesVisited int  `json:"pages_visited"`
	Listings     int  `json:"listings"`
	Duplicates   int  `json:"duplicates"`
	Applied      int  `json:"applied"`
	Skipped      int  `json:"skipped"`
	Persisted    int  `json:"persisted"`
	StoppedEarly bool `json:"stopped_early"`
	Cancelled    bool `json:"cancelled"`
}

// Total returns the number of listings that produced an outcome.
func (s RunSummary) Total() int {
	return s.Applied + s.Skipped
}

// RunRecord is the persisted history row for one run.
type RunRecord struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	State      RunState   `json:"state"`
	Summary    RunSummary `json:"summary"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
