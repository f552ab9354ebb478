package types

import (
	"time"

	"github.com/google/uuid"
)

// Signal is the state of one match indicator shown on a job detail page.
type Signal string

// Signal values
const (
	SignalUnknown  Signal = "unknown"
	SignalMatch    Signal = "match"
	SignalMismatch Signal = "mismatch"
)

// MatchSignals are the match indicators extracted from a job detail page.
type MatchSignals struct {
	Skills         Signal `json:"skills"`
	Location       Signal `json:"location"`
	Experience     Signal `json:"experience"`
	Salary         Signal `json:"salary"`
	EarlyApplicant Signal `json:"early_applicant"`
}

// NamedSignal pairs a signal with its display name.
type NamedSignal struct {
	Name  string
	Value Signal
}

// All returns the signals in a fixed order.
func (m MatchSignals) All() []NamedSignal {
	return []NamedSignal{
		{Name: "skills", Value: normalizeSignal(m.Skills)},
		{Name: "location", Value: normalizeSignal(m.Location)},
		{Name: "experience", Value: normalizeSignal(m.Experience)},
		{Name: "salary", Value: normalizeSignal(m.Salary)},
		{Name: "early_applicant", Value: normalizeSignal(m.EarlyApplicant)},
	}
}

func normalizeSignal(s Signal) Signal {
	if s == "" {
		return SignalUnknown
	}
	return s
}

// MatchDecision is the binary result of evaluating a job.
type MatchDecision string

// MatchDecision values
const (
	DecisionGoodMatch MatchDecision = "good_match"
	DecisionPoorMatch MatchDecision = "poor_match"
)

// ApplyPathKind classifies how a job can be applied to.
type ApplyPathKind string

// ApplyPathKind values
const (
	ApplyPathDirect      ApplyPathKind = "direct"
	ApplyPathExternal    ApplyPathKind = "external"
	ApplyPathUnavailable ApplyPathKind = "unavailable"
)

// ApplicationStatus is the final status recorded for a listing.
type ApplicationStatus string

// ApplicationStatus values
const (
	StatusApplied ApplicationStatus = "applied"
	StatusSkipped ApplicationStatus = "skipped"
)

// Reasons recorded on outcomes.
const (
	ReasonPoorMatch        = "poor_match"
	ReasonExternalApply    = "external_apply"
	ReasonApplyUnavailable = "apply_unavailable"
	ReasonChatbotTimeout   = "chatbot_timeout"
	ReasonChatbotError     = "chatbot_error"
	ReasonChatbotUnsettled = "chatbot_unsettled"
	ReasonCancelled        = "cancelled"
	ReasonErrorPrefix      = "error: "
)

// JobMetadata is descriptive data scraped from a job detail page.
type JobMetadata struct {
	Title      string `json:"title,omitempty"`
	Company    string `json:"company,omitempty"`
	Salary     string `json:"salary,omitempty"`
	Location   string `json:"location,omitempty"`
	Experience string `json:"experience,omitempty"`
	PostedAgo  string `json:"posted_ago,omitempty"`
}

// JobOutcome is the immutable record of one examined listing.
type JobOutcome struct {
	UserID            uuid.UUID         `json:"user_id"`
	RunID             uuid.UUID         `json:"run_id"`
	PageNumber        int               `json:"page_number"`
	IndexOnPage       int               `json:"index_on_page"`
	ListingURL        string            `json:"listing_url"`
	Signals           MatchSignals      `json:"match_signals"`
	MatchScore        int               `json:"match_score"`
	MatchDecision     MatchDecision     `json:"match_decision"`
	ApplyPath         ApplyPathKind     `json:"apply_path"`
	Status            ApplicationStatus `json:"application_status"`
	Reason            string            `json:"reason,omitempty"`
	QuestionsAnswered int               `json:"questions_answered"`
	Metadata          JobMetadata       `json:"job_metadata"`
	RecordedAt        time.Time         `json:"recorded_at"`
}
