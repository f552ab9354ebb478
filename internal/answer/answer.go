// Package answer resolves chatbot application questions to short answers.
// Profile-derived rules are tried first; anything they cannot answer goes to a
// generative backend behind a circuit breaker, and backend failures degrade to
// a fixed polite answer.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonathan/apply-autopilot/internal/llm"
	"github.com/jonathan/apply-autopilot/internal/prompts"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/sony/gobreaker"
)

// Defaults for generated answers.
const (
	DefaultMaxLength = 200
	DefaultTimeout   = 15 * time.Second
	DegradedAnswer   = "Prefer not to answer"
)

// Source records where an answer came from.
type Source string

// Source values
const (
	SourceRule      Source = "rule"
	SourceGenerated Source = "generated"
	SourceDegraded  Source = "degraded"
)

// Result is a resolved answer.
type Result struct {
	Text   string
	Source Source
	// Rule names the profile rule that matched, when Source is SourceRule.
	Rule string
}

// Generator is the slice of llm.Client the provider needs.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

// Options configures a Provider.
type Options struct {
	MaxLength int
	Timeout   time.Duration
	Tier      llm.ModelTier
	// Breaker trips after this many consecutive backend failures.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing again.
	BreakerCooldown time.Duration
}

// DefaultOptions returns the default provider options.
func DefaultOptions() Options {
	return Options{
		MaxLength:       DefaultMaxLength,
		Timeout:         DefaultTimeout,
		Tier:            llm.TierLite,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	}
}

// Provider answers application questions. It is safe for concurrent use.
type Provider struct {
	gen     Generator
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Provider. gen may be nil, in which case unmatched questions
// get the degraded answer.
func New(gen Generator, opts Options, logger *slog.Logger) *Provider {
	defaults := DefaultOptions()
	if opts.MaxLength <= 0 {
		opts.MaxLength = defaults.MaxLength
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.Tier == "" {
		opts.Tier = defaults.Tier
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaults.BreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaults.BreakerCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "answer-backend",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Provider{gen: gen, opts: opts, breaker: breaker, logger: logger}
}

// Answer returns a best-effort answer text. It never fails.
func (p *Provider) Answer(ctx context.Context, question string, profile types.UserProfile) string {
	return p.Resolve(ctx, question, profile).Text
}

// Resolve returns the answer along with its source.
func (p *Provider) Resolve(ctx context.Context, question string, profile types.UserProfile) Result {
	if name, text, ok := matchRule(question, profile); ok {
		return Result{Text: truncate(text, p.opts.MaxLength), Source: SourceRule, Rule: name}
	}

	text, err := p.generate(ctx, question, profile)
	if err != nil {
		p.logger.Warn("answer backend failed, using degraded answer",
			slog.String("question", question),
			slog.Any("error", err),
		)
		return Result{Text: DegradedAnswer, Source: SourceDegraded}
	}
	return Result{Text: text, Source: SourceGenerated}
}

func (p *Provider) generate(ctx context.Context, question string, profile types.UserProfile) (string, error) {
	if p.gen == nil {
		return "", fmt.Errorf("no answer backend configured")
	}

	set, err := prompts.Load()
	if err != nil {
		return "", err
	}
	prompt, err := set.RenderQuestion(prompts.AnswerData{
		Profile:   ProfileSummary(profile),
		Question:  question,
		MaxLength: p.opts.MaxLength,
	})
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.gen.GenerateContent(callCtx, prompt, p.opts.Tier)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	text := truncate(llm.CleanAnswer(out.(string)), p.opts.MaxLength)
	if text == "" {
		return "", fmt.Errorf("empty answer from backend")
	}
	return text, nil
}

// ProfileSummary renders the profile as the plain-text block used in prompts.
func ProfileSummary(profile types.UserProfile) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Name", profile.Name)
	line("Target role", profile.TargetRole)
	line("Total experience", formatYears(profile.YearsOfExperience))
	line("Skills", strings.Join(profile.Skills, ", "))
	line("Experience by skill", skillYears(profile.SkillExperience))
	line("Current location", profile.Location)
	line("Current CTC", profile.CurrentCTC)
	line("Expected CTC", profile.ExpectedCTC)
	line("Notice period", profile.NoticePeriod)
	line("Summary", profile.ResumeSummary)
	return strings.TrimSpace(b.String())
}

func skillYears(m map[string]float64) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if years := formatYears(m[name]); years != "" {
			parts = append(parts, fmt.Sprintf("%s %s years", name, years))
		}
	}
	return strings.Join(parts, ", ")
}

// DefaultOption picks the option a checkbox or radio question gets when no
// rule applies: the first affirmative option, otherwise the first option.
// It returns -1 for an empty list.
func DefaultOption(labels []string) int {
	if len(labels) == 0 {
		return -1
	}
	for i, label := range labels {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "yes", "y", "true", "agree", "i agree", "ok":
			return i
		}
	}
	return 0
}

func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max]))
}
