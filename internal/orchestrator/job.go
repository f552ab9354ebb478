package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/apply-autopilot/internal/answer"
	"github.com/jonathan/apply-autopilot/internal/evaluate"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Job processing stages, used in JobError and outcome reasons.
const (
	stageOpen    = "open"
	stageInspect = "inspect"
	stageApply   = "apply"
	stageChat    = "chatbot"
)

// processJob handles one listing in its own tab. It never panics and never
// returns an error: every failure becomes a skipped outcome.
func (o *Orchestrator) processJob(ctx context.Context, r *run, page, index int, listingURL string) (outcome types.JobOutcome) {
	outcome = types.JobOutcome{
		PageNumber:  page,
		IndexOnPage: index,
		ListingURL:  listingURL,
		Status:      types.StatusSkipped,
		ApplyPath:   types.ApplyPathUnavailable,
	}
	stage := stageOpen

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("recovered panic while processing job",
				slog.String("url", listingURL),
				slog.String("stage", stage),
				slog.Any("panic", rec),
			)
			outcome = o.jobFailed(outcome, &JobError{URL: listingURL, Stage: stage, Cause: fmt.Errorf("panic: %v", rec)})
		}
	}()

	if err := r.pacer.Wait(ctx); err != nil {
		return o.jobFailed(outcome, &JobError{URL: listingURL, Stage: stage, Cause: err})
	}

	openCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	jobPage, err := r.session.OpenJob(openCtx, listingURL)
	cancel()
	if err != nil {
		return o.jobFailed(outcome, &JobError{URL: listingURL, Stage: stage, Cause: err})
	}
	defer func() {
		if err := jobPage.Close(); err != nil {
			slog.Warn("failed to close job tab", slog.String("url", listingURL), slog.Any("error", err))
		}
	}()

	stage = stageInspect
	inspectCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	detail, err := jobPage.Inspect(inspectCtx)
	cancel()
	if err != nil {
		return o.jobFailed(outcome, &JobError{URL: listingURL, Stage: stage, Cause: err})
	}

	eval := o.opts.Policy.Evaluate(detail.Signals)
	outcome.Signals = detail.Signals
	outcome.Metadata = detail.Metadata
	outcome.MatchScore = eval.Score
	outcome.MatchDecision = eval.Decision
	if detail.ApplyPath != "" {
		outcome.ApplyPath = detail.ApplyPath
	}

	label := jobLabel(detail.Metadata, listingURL)
	apply, reason := evaluate.ShouldApply(eval, outcome.ApplyPath)
	if !apply {
		outcome.Reason = reason
		o.events.Infof("Skipping %s: %s (%s)", label, strings.ReplaceAll(reason, "_", " "), strings.Join(eval.Reasons, "; "))
		return outcome
	}

	stage = stageApply
	o.events.Infof("Applying to %s (score %d)", label, eval.Score)
	applyCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	err = jobPage.Apply(applyCtx)
	cancel()
	if err != nil {
		return o.jobFailed(outcome, &JobError{URL: listingURL, Stage: stage, Cause: err})
	}

	stage = stageChat
	res := o.chat(ctx, r, jobPage)
	outcome.QuestionsAnswered = res.answered
	outcome.Status = res.status
	outcome.Reason = res.reason

	switch {
	case res.status == types.StatusApplied && res.reason == "":
		o.events.Successf("Applied to %s (%d questions answered)", label, res.answered)
	case res.status == types.StatusApplied:
		o.events.Warnf("Applied to %s without confirmation (%s)", label, strings.ReplaceAll(res.reason, "_", " "))
	default:
		o.events.Warnf("Could not apply to %s: %s", label, strings.ReplaceAll(res.reason, "_", " "))
	}
	return outcome
}

func (o *Orchestrator) jobFailed(outcome types.JobOutcome, err *JobError) types.JobOutcome {
	outcome.Status = types.StatusSkipped
	outcome.Reason = err.Reason()
	o.events.Errorf("Error processing %s at %s: %s", err.URL, err.Stage, describe(err.Cause))
	return outcome
}

// chatResult is the settled state of the application chatbot.
type chatResult struct {
	status   types.ApplicationStatus
	reason   string
	answered int
}

// chat drives the application chatbot until it submits, closes, reports an
// error, or exhausts MaxChatPolls.
func (o *Orchestrator) chat(ctx context.Context, r *run, page site.JobPage) chatResult {
	var (
		answered int
		opened   bool
		lastID   string
	)

	for poll := 0; poll < o.opts.MaxChatPolls; poll++ {
		if o.stopRequested(ctx, r) {
			return settle(answered, types.ReasonCancelled)
		}

		pollCtx, cancel := context.WithTimeout(ctx, o.opts.ChatPollTimeout)
		state, err := page.PollChat(pollCtx)
		cancel()
		if err != nil {
			slog.Debug("chat poll failed", slog.Int("poll", poll), slog.Any("error", err))
			if sleep(ctx, o.opts.ChatPollInterval) != nil {
				return settle(answered, types.ReasonCancelled)
			}
			continue
		}

		switch {
		case state.Error != "":
			o.events.Warnf("Chatbot reported an error: %s", state.Error)
			return chatResult{status: types.StatusSkipped, reason: types.ReasonChatbotError, answered: answered}
		case state.Submitted:
			return chatResult{status: types.StatusApplied, answered: answered}
		case state.Open:
			opened = true
		case opened:
			// The dialog was open and has closed on its own.
			return chatResult{status: types.StatusApplied, answered: answered}
		}

		if q := state.Question; q != nil && q.ID != lastID {
			value, ok := o.answerFor(ctx, r, q)
			if ok {
				answerCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
				err := page.Answer(answerCtx, *q, value)
				cancel()
				if err != nil {
					o.events.Warnf("Could not answer %q: %s", q.Text, describe(err))
				} else {
					answered++
					lastID = q.ID
				}
			} else {
				lastID = q.ID
			}
		}

		if sleep(ctx, o.opts.ChatPollInterval) != nil {
			return settle(answered, types.ReasonCancelled)
		}
	}

	if answered > 0 {
		return chatResult{status: types.StatusApplied, reason: types.ReasonChatbotUnsettled, answered: answered}
	}
	return chatResult{status: types.StatusSkipped, reason: types.ReasonChatbotTimeout, answered: answered}
}

// settle resolves a chatbot interrupted by a stop: it counts as applied only
// when at least one question went through.
func settle(answered int, reason string) chatResult {
	if answered > 0 {
		return chatResult{status: types.StatusApplied, reason: reason, answered: answered}
	}
	return chatResult{status: types.StatusSkipped, reason: reason, answered: answered}
}

// answerFor picks the reply to a question: the default option for choice
// questions, the answer provider for free text.
func (o *Orchestrator) answerFor(ctx context.Context, r *run, q *site.Question) (string, bool) {
	switch q.Kind {
	case site.QuestionChoice:
		labels := make([]string, len(q.Options))
		for i, opt := range q.Options {
			labels[i] = opt.Label
		}
		i := answer.DefaultOption(labels)
		if i < 0 {
			o.events.Warnf("Question %q has no options", q.Text)
			return "", false
		}
		o.events.Infof("Answered %q with %q", q.Text, q.Options[i].Label)
		return q.Options[i].ID, true
	default:
		start := time.Now()
		text := o.answers.Answer(ctx, q.Text, r.cfg.Profile)
		slog.Debug("answered chatbot question", slog.Duration("took", time.Since(start)))
		o.events.Infof("Answered %q", q.Text)
		return text, true
	}
}

func jobLabel(meta types.JobMetadata, listingURL string) string {
	switch {
	case meta.Title != "" && meta.Company != "":
		return fmt.Sprintf("%q at %s", meta.Title, meta.Company)
	case meta.Title != "":
		return fmt.Sprintf("%q", meta.Title)
	}
	return listingURL
}
