// Package orchestrator drives one automation run: log in, walk the result
// pages, evaluate each listing, and apply through the portal chatbot when the
// listing is a good match. All portal access goes through the site interfaces.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/evaluate"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/types"
	"golang.org/x/time/rate"
)

// CredentialResolver resolves a credential reference into usable credentials.
type CredentialResolver interface {
	GetCredentials(ctx context.Context, userID uuid.UUID) (types.Credentials, error)
}

// Answerer produces free-text answers for chatbot questions. It never fails.
type Answerer interface {
	Answer(ctx context.Context, question string, profile types.UserProfile) string
}

// StopFlag is polled at every page, job, and chatbot poll boundary.
type StopFlag interface {
	StopRequested() bool
}

// Options tunes the run loops. Zero values take the defaults, except Policy,
// which is used as given; a negative ChatPollInterval or PacingInterval
// disables that wait.
type Options struct {
	Policy    evaluate.Policy
	PageParam string

	LoginTimeout      time.Duration
	LoginPollInterval time.Duration
	// StepTimeout bounds every other browser call.
	StepTimeout time.Duration

	// EmptyPageAttempts is how many times a page with no listings is fetched
	// before the page loop ends.
	EmptyPageAttempts int
	// MaxConsecutivePageFailures ends the page loop after that many pages in a
	// row fail to load or fail the previous-outcome check.
	MaxConsecutivePageFailures int

	MaxChatPolls     int
	ChatPollTimeout  time.Duration
	ChatPollInterval time.Duration

	// PacingInterval is the minimum gap between portal navigations.
	PacingInterval time.Duration
	NavRetry       RetryConfig
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Policy:                     evaluate.DefaultPolicy(),
		PageParam:                  "pageNo",
		LoginTimeout:               60 * time.Second,
		LoginPollInterval:          500 * time.Millisecond,
		StepTimeout:                45 * time.Second,
		EmptyPageAttempts:          2,
		MaxConsecutivePageFailures: 2,
		MaxChatPolls:               15,
		ChatPollTimeout:            10 * time.Second,
		ChatPollInterval:           time.Second,
		PacingInterval:             2 * time.Second,
		NavRetry:                   DefaultRetryConfig,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageParam == "" {
		o.PageParam = d.PageParam
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = d.LoginTimeout
	}
	if o.LoginPollInterval <= 0 {
		o.LoginPollInterval = d.LoginPollInterval
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = d.StepTimeout
	}
	if o.EmptyPageAttempts <= 0 {
		o.EmptyPageAttempts = d.EmptyPageAttempts
	}
	if o.MaxConsecutivePageFailures <= 0 {
		o.MaxConsecutivePageFailures = d.MaxConsecutivePageFailures
	}
	if o.MaxChatPolls <= 0 {
		o.MaxChatPolls = d.MaxChatPolls
	}
	if o.ChatPollTimeout <= 0 {
		o.ChatPollTimeout = d.ChatPollTimeout
	}
	switch {
	case o.ChatPollInterval == 0:
		o.ChatPollInterval = d.ChatPollInterval
	case o.ChatPollInterval < 0:
		o.ChatPollInterval = 0
	}
	switch {
	case o.PacingInterval == 0:
		o.PacingInterval = d.PacingInterval
	case o.PacingInterval < 0:
		o.PacingInterval = 0
	}
	if o.NavRetry == (RetryConfig{}) {
		o.NavRetry = d.NavRetry
	}
	if o.NavRetry.MaxRetries < 0 {
		o.NavRetry.MaxRetries = 0
	}
	return o
}

// Orchestrator runs the automation loops. One Orchestrator may serve many
// runs, but only one at a time.
type Orchestrator struct {
	creds   CredentialResolver
	answers Answerer
	events  *runlog.Log
	sink    *results.Sink
	opts    Options
}

// New creates an Orchestrator. The caller resets events and sink before each run.
func New(creds CredentialResolver, answers Answerer, events *runlog.Log, sink *results.Sink, opts Options) *Orchestrator {
	return &Orchestrator{
		creds:   creds,
		answers: answers,
		events:  events,
		sink:    sink,
		opts:    opts.withDefaults(),
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// run is the state of one Run call.
type run struct {
	cfg     types.RunConfiguration
	session site.Session
	stop    StopFlag
	pacer   *rate.Limiter
	seen    map[string]bool
	summary types.RunSummary
}

// Run executes one automation run on an already launched session and returns
// its summary. Only authentication and final persistence failures are
// returned as errors; everything else is logged and recorded per listing.
func (o *Orchestrator) Run(ctx context.Context, session site.Session, cfg types.RunConfiguration, stop StopFlag) (types.RunSummary, error) {
	limit := rate.Inf
	if o.opts.PacingInterval > 0 {
		limit = rate.Every(o.opts.PacingInterval)
	}
	r := &run{
		cfg:     cfg,
		session: session,
		stop:    stop,
		pacer:   rate.NewLimiter(limit, 1),
		seen:    make(map[string]bool),
	}

	if o.stopRequested(ctx, r) {
		r.summary.Cancelled = true
		o.events.Warnf("Stop requested before login; nothing to do")
		return r.summary, nil
	}

	if err := o.authenticate(ctx, r); err != nil {
		o.events.Errorf("Login failed: %s", describe(err))
		return r.summary, err
	}

	o.iteratePages(ctx, r)
	return o.finalize(ctx, r)
}

// ---- Authenticating ----

func (o *Orchestrator) authenticate(ctx context.Context, r *run) error {
	o.events.Infof("Logging in to the portal")

	creds, err := o.creds.GetCredentials(ctx, r.cfg.Credentials.UserID)
	if err != nil {
		return &AuthenticationError{Cause: err}
	}

	loginCtx, cancel := context.WithTimeout(ctx, o.opts.LoginTimeout)
	defer cancel()

	if err := r.session.Login(loginCtx, creds); err != nil {
		return &AuthenticationError{Cause: err}
	}

	for {
		pending, err := r.session.LoginPending(loginCtx)
		if err == nil && !pending {
			o.events.Successf("Logged in")
			return nil
		}
		if err := sleep(loginCtx, o.opts.LoginPollInterval); err != nil {
			if ctx.Err() != nil {
				return &AuthenticationError{Cause: ctx.Err()}
			}
			return &AuthenticationError{Cause: errors.New("login form still present after submit")}
		}
	}
}

// ---- IteratingPages ----

func (o *Orchestrator) iteratePages(ctx context.Context, r *run) {
	o.events.Infof("Searching with %s", r.cfg.SearchURL)

	failures := 0
	for page := 1; page <= r.cfg.MaxPages; page++ {
		if o.stopRequested(ctx, r) {
			r.summary.Cancelled = true
			o.events.Warnf("Stop requested; ending before page %d", page)
			return
		}

		pageURL, err := PageURL(r.cfg.SearchURL, o.opts.PageParam, page)
		if err != nil {
			o.events.Errorf("Cannot build results page URL: %v", err)
			r.summary.StoppedEarly = true
			return
		}

		listings, err := o.loadPage(ctx, r, page, pageURL)
		r.summary.PagesVisited++
		if err != nil {
			if ctx.Err() != nil {
				r.summary.Cancelled = true
				return
			}
			failures++
			o.events.Warnf("Results page %d failed to load: %s", page, describe(err))
			if failures >= o.opts.MaxConsecutivePageFailures {
				r.summary.StoppedEarly = true
				o.events.Warnf("Stopping page loop early after %d consecutive failed pages", failures)
				return
			}
			continue
		}
		if len(listings) == 0 {
			r.summary.StoppedEarly = true
			o.events.Warnf("No listings on page %d after %d attempts; stopping page loop early", page, o.opts.EmptyPageAttempts)
			return
		}
		o.events.Infof("Found %d listings on page %d", len(listings), page)

		stopped, err := o.iterateJobs(ctx, r, page, listings)
		if err != nil {
			if ctx.Err() != nil {
				r.summary.Cancelled = true
				return
			}
			failures++
			o.events.Warnf("Skipping page %d: %s", page, describe(err))
			if failures >= o.opts.MaxConsecutivePageFailures {
				r.summary.StoppedEarly = true
				o.events.Warnf("Stopping page loop early after %d consecutive failed pages", failures)
				return
			}
			continue
		}
		failures = 0
		o.flush(ctx)
		if stopped {
			r.summary.Cancelled = true
			return
		}
	}
}

// loadPage fetches the listings of one results page. Navigation errors are
// retried with backoff; an empty page is fetched again up to EmptyPageAttempts.
func (o *Orchestrator) loadPage(ctx context.Context, r *run, page int, pageURL string) ([]string, error) {
	var listings []string
	for attempt := 1; attempt <= o.opts.EmptyPageAttempts; attempt++ {
		var err error
		listings, err = retryDo(ctx, o.opts.NavRetry, func(try int) ([]string, error) {
			if err := r.pacer.Wait(ctx); err != nil {
				return nil, err
			}
			if try > 0 {
				o.events.Infof("Retrying results page %d (attempt %d)", page, try+1)
			}
			stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
			defer cancel()
			return r.session.ListingURLs(stepCtx, pageURL)
		})
		if err != nil {
			return nil, err
		}
		if len(listings) > 0 {
			return listings, nil
		}
		if attempt < o.opts.EmptyPageAttempts {
			o.events.Warnf("Page %d returned no listings; fetching again", page)
		}
	}
	return listings, nil
}

// ---- IteratingJobs ----

// iterateJobs processes one page of listings and reports whether a stop was
// observed. An error means previous outcomes could not be checked and no
// listing on the page was opened.
func (o *Orchestrator) iterateJobs(ctx context.Context, r *run, page int, listings []string) (bool, error) {
	fresh := make([]string, 0, len(listings))
	inPage := make(map[string]bool, len(listings))
	for _, u := range listings {
		if r.seen[u] || inPage[u] {
			continue
		}
		inPage[u] = true
		fresh = append(fresh, u)
	}

	known, err := o.sink.Known(ctx, fresh)
	if err != nil {
		return false, fmt.Errorf("failed to check previous outcomes: %w", err)
	}

	r.summary.Listings += len(listings)
	for _, u := range listings {
		if !inPage[u] {
			r.summary.Duplicates++
			o.events.Infof("Skipping duplicate listing %s", u)
			continue
		}
		delete(inPage, u)
		r.seen[u] = true
	}

	for i, u := range fresh {
		if o.stopRequested(ctx, r) {
			o.events.Warnf("Stop requested; %d listings on page %d left unprocessed", len(fresh)-i, page)
			return true, nil
		}
		if known[u] {
			r.summary.Duplicates++
			o.events.Infof("Already processed %s in an earlier run; skipping", u)
			continue
		}

		outcome := o.processJob(ctx, r, page, i, u)
		recorded := o.sink.Record(outcome)
		switch recorded.Status {
		case types.StatusApplied:
			r.summary.Applied++
		default:
			r.summary.Skipped++
		}
	}
	return false, nil
}

func (o *Orchestrator) flush(ctx context.Context) {
	n, err := o.sink.Flush(ctx)
	if err != nil {
		o.events.Warnf("Saving outcomes failed, will retry: %s", describe(err))
		return
	}
	if n > 0 {
		o.events.Infof("Saved %d outcomes", n)
	}
}

// ---- Finalizing ----

func (o *Orchestrator) finalize(ctx context.Context, r *run) (types.RunSummary, error) {
	// Outcomes must be written even when the run context was cancelled.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StepTimeout)
	defer cancel()

	var flushErr error
	if _, err := o.sink.Flush(flushCtx); err != nil {
		flushErr = fmt.Errorf("failed to persist outcomes: %w", err)
		o.events.Errorf("Could not save %d outcomes: %s", o.sink.Pending(), describe(err))
	}
	r.summary.Persisted = o.sink.Persisted()

	s := r.summary
	msg := fmt.Sprintf("Run finished: applied=%d skipped=%d total=%d duplicates=%d pages=%d",
		s.Applied, s.Skipped, s.Total(), s.Duplicates, s.PagesVisited)
	switch {
	case flushErr != nil:
		o.events.Errorf("%s", msg)
	case s.Cancelled:
		o.events.Warnf("%s (stopped)", msg)
	default:
		o.events.Successf("%s", msg)
	}
	return s, flushErr
}

func (o *Orchestrator) stopRequested(ctx context.Context, r *run) bool {
	if ctx.Err() != nil {
		return true
	}
	return r.stop != nil && r.stop.StopRequested()
}

// describe renders an error for the run log. Context errors become plain words.
func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, types.ErrNotConfigured):
		return "portal credentials are not configured"
	}
	return err.Error()
}
