package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/answer"
	"github.com/jonathan/apply-autopilot/internal/evaluate"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/site/sitetest"
	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchURL = "https://portal.example.com/java-jobs?k=java"

type fakeCreds struct {
	err error
}

func (f fakeCreds) GetCredentials(_ context.Context, _ uuid.UUID) (types.Credentials, error) {
	if f.err != nil {
		return types.Credentials{}, f.err
	}
	return types.Credentials{Identity: "asha@example.com", Secret: types.NewSecret("hunter2")}, nil
}

type recordingAnswerer struct {
	mu    sync.Mutex
	asked []string
}

func (r *recordingAnswerer) Answer(_ context.Context, question string, _ types.UserProfile) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asked = append(r.asked, question)
	return "answer: " + question
}

// flakyStore fails reads or writes on demand while keeping MemoryStore
// semantics for everything else.
type flakyStore struct {
	*results.MemoryStore
	mu sync.Mutex
	// readFailures is how many ExistingListings calls fail; negative fails all.
	readFailures int
	writeErr     error
}

func (f *flakyStore) ExistingListings(ctx context.Context, userID uuid.UUID, urls []string) (map[string]bool, error) {
	f.mu.Lock()
	fail := f.readFailures != 0
	if f.readFailures > 0 {
		f.readFailures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("read replica unavailable")
	}
	return f.MemoryStore.ExistingListings(ctx, userID, urls)
}

func (f *flakyStore) InsertOutcomes(ctx context.Context, outcomes []types.JobOutcome) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.MemoryStore.InsertOutcomes(ctx, outcomes)
}

type stopFunc func() bool

func (f stopFunc) StopRequested() bool { return f() }

type harness struct {
	portal  *sitetest.Portal
	store   *results.MemoryStore
	sink    *results.Sink
	events  *runlog.Log
	answers *recordingAnswerer
	creds   fakeCreds
	opts    Options
	cfg     types.RunConfiguration
}

func testOptions() Options {
	return Options{
		Policy:            evaluate.DefaultPolicy(),
		PageParam:         "pageNo",
		LoginTimeout:      50 * time.Millisecond,
		LoginPollInterval: 5 * time.Millisecond,
		StepTimeout:       time.Second,
		MaxChatPolls:      5,
		ChatPollTimeout:   100 * time.Millisecond,
		ChatPollInterval:  -1,
		PacingInterval:    -1,
		NavRetry:          RetryConfig{MaxRetries: 1, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2},
	}
}

func newHarness(t *testing.T, maxPages int) *harness {
	t.Helper()
	store := results.NewMemoryStore()
	profile := types.UserProfile{Name: "Asha Rao", NoticePeriod: "30 days", YearsOfExperience: 4}
	return &harness{
		portal:  sitetest.NewPortal(),
		store:   store,
		sink:    results.NewSink(store),
		events:  runlog.New(nil),
		answers: &recordingAnswerer{},
		opts:    testOptions(),
		cfg:     types.NewRunConfiguration(uuid.New(), searchURL, maxPages, profile),
	}
}

// useStore routes outcomes through store while keeping h.store as its backing rows.
func (h *harness) useStore(store *flakyStore) {
	store.MemoryStore = h.store
	h.sink = results.NewSink(store)
}

func (h *harness) run(t *testing.T, stop StopFlag) (types.RunSummary, error) {
	t.Helper()
	return h.runWith(t, h.answers, stop)
}

func (h *harness) runWith(t *testing.T, answers Answerer, stop StopFlag) (types.RunSummary, error) {
	t.Helper()
	session, err := h.portal.Launch(context.Background())
	require.NoError(t, err)
	defer session.Close()

	runID := uuid.New()
	h.events.Reset(runID.String())
	h.sink.Reset(h.cfg.UserID, runID)
	orch := New(h.creds, answers, h.events, h.sink, h.opts)
	return orch.Run(context.Background(), session, h.cfg, stop)
}

func (h *harness) messages() []string {
	var out []string
	for _, e := range h.events.Events() {
		out = append(out, e.Message)
	}
	return out
}

func (h *harness) hasMessage(substr string) bool {
	for _, m := range h.messages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (h *harness) outcome(t *testing.T, url string) types.JobOutcome {
	t.Helper()
	for _, o := range h.sink.Outcomes() {
		if o.ListingURL == url {
			return o
		}
	}
	t.Fatalf("no outcome recorded for %s", url)
	return types.JobOutcome{}
}

func poorMatch(title string) site.JobDetail {
	d := sitetest.GoodDirect(title)
	d.Signals.Location = types.SignalMismatch
	return d
}

func TestRun_JavaSearchScenario(t *testing.T) {
	h := newHarness(t, 2)
	const (
		jobA = "https://portal.example.com/job-listings-a"
		jobB = "https://portal.example.com/job-listings-b"
		seen = "https://portal.example.com/job-listings-seen"
	)
	h.portal.AddPage(1, map[string]*sitetest.Job{
		jobA: {Detail: sitetest.GoodDirect("Java Developer")},
		jobB: {Detail: poorMatch("Java Lead")},
		seen: {Detail: sitetest.GoodDirect("Old Listing")},
	}, jobA, jobB, seen)

	_, err := h.store.InsertOutcomes(context.Background(), []types.JobOutcome{{UserID: h.cfg.UserID, ListingURL: seen, Status: types.StatusApplied}})
	require.NoError(t, err)

	summary, err := h.run(t, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.PagesVisited)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Persisted)
	assert.True(t, summary.StoppedEarly)
	assert.False(t, summary.Cancelled)

	assert.Len(t, h.store.Rows(), 3)
	assert.Equal(t, 2, h.portal.EmptyHits(2))
	assert.NotContains(t, h.portal.Opened(), seen)
	assert.Equal(t, []string{
		searchURL + "&pageNo=1",
		searchURL + "&pageNo=2",
		searchURL + "&pageNo=2",
	}, h.portal.Visited())

	assert.Equal(t, types.StatusApplied, h.outcome(t, jobA).Status)
	skipped := h.outcome(t, jobB)
	assert.Equal(t, types.StatusSkipped, skipped.Status)
	assert.Equal(t, types.ReasonPoorMatch, skipped.Reason)
	assert.Equal(t, types.DecisionPoorMatch, skipped.MatchDecision)

	assert.True(t, h.hasMessage("stopping page loop early"))
	last, ok := h.events.Last()
	require.True(t, ok)
	assert.Equal(t, types.LevelSuccess, last.Level)
	assert.Contains(t, last.Message, "applied=1 skipped=1 total=2 duplicates=1")
}

func TestRun_SecondRunInsertsNothing(t *testing.T) {
	h := newHarness(t, 1)
	h.portal.AddPage(1, map[string]*sitetest.Job{
		"https://portal.example.com/a": {Detail: sitetest.GoodDirect("A")},
		"https://portal.example.com/b": {Detail: poorMatch("B")},
	}, "https://portal.example.com/a", "https://portal.example.com/b")

	first, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Persisted)

	second, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Zero(t, second.Persisted)
	assert.Equal(t, 2, second.Duplicates)
	assert.Zero(t, second.Total())
	assert.Len(t, h.store.Rows(), 2)
	assert.Len(t, h.portal.Opened(), 2)
}

func TestRun_DuplicateAcrossPagesOpensOnce(t *testing.T) {
	h := newHarness(t, 2)
	shared := "https://portal.example.com/shared"
	jobs := map[string]*sitetest.Job{shared: {Detail: sitetest.GoodDirect("Shared")}}
	h.portal.AddPage(1, jobs, shared)
	h.portal.AddPage(2, jobs, shared)

	summary, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, 2, summary.Listings)
	assert.Equal(t, []string{shared}, h.portal.Opened())
}

func TestRun_JobFailuresAreIsolated(t *testing.T) {
	h := newHarness(t, 1)
	const (
		panics   = "https://portal.example.com/panics"
		noOpen   = "https://portal.example.com/no-open"
		badPage  = "https://portal.example.com/bad-page"
		noApply  = "https://portal.example.com/no-apply"
		good     = "https://portal.example.com/good"
		external = "https://portal.example.com/external"
	)
	ext := sitetest.GoodDirect("External")
	ext.ApplyPath = types.ApplyPathExternal
	h.portal.AddPage(1, map[string]*sitetest.Job{
		panics:   {PanicOnInspect: true},
		noOpen:   {OpenErr: errors.New("tab crashed")},
		badPage:  {InspectErr: errors.New("detail selector missing")},
		noApply:  {Detail: sitetest.GoodDirect("No Apply"), ApplyErr: errors.New("button detached")},
		good:     {Detail: sitetest.GoodDirect("Good")},
		external: {Detail: ext},
	}, panics, noOpen, badPage, noApply, good, external)

	summary, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 5, summary.Skipped)

	assert.Equal(t, "error: inspect", h.outcome(t, panics).Reason)
	assert.Equal(t, "error: open", h.outcome(t, noOpen).Reason)
	assert.Equal(t, "error: inspect", h.outcome(t, badPage).Reason)
	assert.Equal(t, "error: apply", h.outcome(t, noApply).Reason)
	assert.Equal(t, types.StatusApplied, h.outcome(t, good).Status)
	assert.Equal(t, types.ReasonExternalApply, h.outcome(t, external).Reason)

	assert.Zero(t, h.portal.OpenTabs())
	assert.True(t, h.hasMessage(panics))
	for _, e := range h.events.Events() {
		assert.NotContains(t, e.Message, "goroutine")
		assert.NotContains(t, e.Message, "hunter2")
	}
}

func TestRun_AuthenticationFailures(t *testing.T) {
	t.Run("login markers remain", func(t *testing.T) {
		h := newHarness(t, 1)
		h.portal.LoginRejected = true
		h.portal.AddPage(1, map[string]*sitetest.Job{"https://portal.example.com/a": {}}, "https://portal.example.com/a")

		_, err := h.run(t, nil)
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Empty(t, h.portal.Visited())
		assert.Empty(t, h.store.Rows())
	})

	t.Run("credentials not configured", func(t *testing.T) {
		h := newHarness(t, 1)
		h.creds = fakeCreds{err: types.ErrNotConfigured}

		_, err := h.run(t, nil)
		require.ErrorIs(t, err, types.ErrNotConfigured)
		assert.True(t, h.hasMessage("portal credentials are not configured"))
	})

	t.Run("login error", func(t *testing.T) {
		h := newHarness(t, 1)
		h.portal.LoginErr = errors.New("form not found")

		_, err := h.run(t, nil)
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		last, _ := h.events.Last()
		assert.Equal(t, types.LevelError, last.Level)
	})
}

func TestRun_PageFailures(t *testing.T) {
	t.Run("transient failure is retried", func(t *testing.T) {
		h := newHarness(t, 1)
		h.portal.FailPage[1] = 1
		h.portal.AddPage(1, map[string]*sitetest.Job{"https://portal.example.com/a": {Detail: sitetest.GoodDirect("A")}}, "https://portal.example.com/a")

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Applied)
		assert.Len(t, h.portal.Visited(), 2)
	})

	t.Run("one failed page is skipped", func(t *testing.T) {
		h := newHarness(t, 2)
		h.portal.FailPage[1] = 10
		h.portal.AddPage(2, map[string]*sitetest.Job{"https://portal.example.com/a": {Detail: sitetest.GoodDirect("A")}}, "https://portal.example.com/a")

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.PagesVisited)
		assert.Equal(t, 1, summary.Applied)
		assert.False(t, summary.StoppedEarly)
		assert.True(t, h.hasMessage("Results page 1 failed to load"))
	})

	t.Run("consecutive failures stop early", func(t *testing.T) {
		h := newHarness(t, 5)
		h.portal.FailPage[1] = 10
		h.portal.FailPage[2] = 10

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.True(t, summary.StoppedEarly)
		assert.Equal(t, 2, summary.PagesVisited)
		// Each page gets the initial attempt plus one retry.
		assert.Len(t, h.portal.Visited(), 4)
		assert.True(t, h.hasMessage("consecutive failed pages"))
	})
}

func TestRun_Chatbot(t *testing.T) {
	const url = "https://portal.example.com/chat"

	tests := []struct {
		name         string
		chat         []site.ChatState
		wantStatus   types.ApplicationStatus
		wantReason   string
		wantAnswered int
	}{
		{
			name: "questions then close",
			chat: []site.ChatState{
				{Open: true, Question: sitetest.Choice("1", "Are you willing to relocate?", "No", "Yes")},
				{Open: true, Question: sitetest.Question("2", "Describe your last project")},
				{Open: false},
			},
			wantStatus:   types.StatusApplied,
			wantAnswered: 2,
		},
		{
			name: "explicit submit",
			chat: []site.ChatState{
				{Open: true, Question: sitetest.Question("1", "Why this role?")},
				{Submitted: true},
			},
			wantStatus:   types.StatusApplied,
			wantAnswered: 1,
		},
		{
			name: "error after an answer",
			chat: []site.ChatState{
				{Open: true, Question: sitetest.Question("1", "Why this role?")},
				{Open: true, Error: "Something went wrong"},
			},
			wantStatus:   types.StatusSkipped,
			wantReason:   types.ReasonChatbotError,
			wantAnswered: 1,
		},
		{
			name:       "never settles without questions",
			chat:       []site.ChatState{{Open: true}},
			wantStatus: types.StatusSkipped,
			wantReason: types.ReasonChatbotTimeout,
		},
		{
			name: "never settles after an answer",
			chat: []site.ChatState{
				{Open: true, Question: sitetest.Question("1", "Why this role?")},
			},
			wantStatus:   types.StatusApplied,
			wantReason:   types.ReasonChatbotUnsettled,
			wantAnswered: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			h.portal.AddPage(1, map[string]*sitetest.Job{url: {Detail: sitetest.GoodDirect("Chatty"), Chat: tt.chat}}, url)

			_, err := h.run(t, nil)
			require.NoError(t, err)

			got := h.outcome(t, url)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantAnswered, got.QuestionsAnswered)
			assert.Len(t, h.portal.Answers(), tt.wantAnswered)
		})
	}
}

func TestRun_ChatbotAnswers(t *testing.T) {
	const url = "https://portal.example.com/chat"
	h := newHarness(t, 1)
	h.portal.AddPage(1, map[string]*sitetest.Job{url: {
		Detail: sitetest.GoodDirect("Chatty"),
		Chat: []site.ChatState{
			{Open: true, Question: sitetest.Choice("1", "Are you willing to relocate?", "No", "Yes")},
			{Open: true, Question: sitetest.Question("2", "What is your notice period?")},
			{Open: true, Question: sitetest.Question("3", "Describe your favourite framework")},
			{Submitted: true},
		},
	}}, url)

	provider := answer.New(nil, answer.DefaultOptions(), nil)
	_, err := h.runWith(t, provider, nil)
	require.NoError(t, err)

	answers := h.portal.Answers()
	require.Len(t, answers, 3)
	assert.Equal(t, "opt-Yes", answers[0].Value)
	assert.Equal(t, "30 days", answers[1].Value)
	assert.Equal(t, answer.DegradedAnswer, answers[2].Value)
}

func TestRun_StopDuringJobs(t *testing.T) {
	h := newHarness(t, 3)
	jobs := map[string]*sitetest.Job{}
	var order []string
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		u := "https://portal.example.com/job-" + id
		jobs[u] = &sitetest.Job{Detail: sitetest.GoodDirect("Job " + id)}
		order = append(order, u)
	}
	h.portal.AddPage(1, jobs, order...)
	h.portal.AddPage(2, map[string]*sitetest.Job{"https://portal.example.com/page-2": {}}, "https://portal.example.com/page-2")

	stop := stopFunc(func() bool { return len(h.portal.Opened()) >= 2 })
	summary, err := h.run(t, stop)
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Len(t, h.portal.Opened(), 2)
	assert.Equal(t, 2, summary.Total())
	assert.Equal(t, 2, summary.Persisted)
	assert.Len(t, h.portal.Visited(), 1)
	last, _ := h.events.Last()
	assert.Equal(t, types.LevelWarning, last.Level)
	assert.Contains(t, last.Message, "(stopped)")
}

func TestRun_StopBeforeLogin(t *testing.T) {
	h := newHarness(t, 1)
	summary, err := h.run(t, stopFunc(func() bool { return true }))
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Empty(t, h.portal.Visited())
}

func TestRun_PersistFailureIsReported(t *testing.T) {
	h := newHarness(t, 1)
	h.portal.AddPage(1, map[string]*sitetest.Job{"https://portal.example.com/a": {Detail: sitetest.GoodDirect("A")}}, "https://portal.example.com/a")
	h.useStore(&flakyStore{writeErr: errors.New("database is down")})

	summary, err := h.run(t, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist outcomes")
	assert.Equal(t, 1, summary.Applied)
	assert.Zero(t, summary.Persisted)
	assert.Equal(t, 1, h.sink.Pending())
}

func TestOptions_Defaults(t *testing.T) {
	orch := New(fakeCreds{}, &recordingAnswerer{}, runlog.New(nil), results.NewSink(results.NewMemoryStore()), Options{Policy: evaluate.DefaultPolicy()})
	opts := orch.Options()
	assert.Equal(t, DefaultOptions(), opts)
	assert.Equal(t, 4, opts.Policy.MinPositive)
	assert.Equal(t, 0, opts.Policy.MaxNegative)
}

func TestOptions_ZeroPolicyIsKept(t *testing.T) {
	orch := New(fakeCreds{}, &recordingAnswerer{}, runlog.New(nil), results.NewSink(results.NewMemoryStore()), Options{Policy: evaluate.Policy{}})
	assert.Equal(t, evaluate.Policy{MinPositive: 0, MaxNegative: 0}, orch.Options().Policy)
}

func TestRun_ZeroMinPositiveAppliesWithoutPositives(t *testing.T) {
	const url = "https://portal.example.com/no-signals"
	h := newHarness(t, 1)
	h.opts.Policy = evaluate.Policy{MinPositive: 0, MaxNegative: 0}
	detail := sitetest.GoodDirect("Bare listing")
	detail.Signals = types.MatchSignals{}
	h.portal.AddPage(1, map[string]*sitetest.Job{url: {Detail: detail}}, url)

	summary, err := h.run(t, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, types.StatusApplied, h.outcome(t, url).Status)
}

func TestRun_OutcomeCheckFailure(t *testing.T) {
	const (
		stored = "https://portal.example.com/stored"
		fresh  = "https://portal.example.com/fresh"
		later  = "https://portal.example.com/later"
	)
	seed := func(t *testing.T, h *harness) {
		t.Helper()
		_, err := h.store.InsertOutcomes(context.Background(), []types.JobOutcome{{
			UserID:     h.cfg.UserID,
			RunID:      uuid.New(),
			ListingURL: stored,
			Status:     types.StatusApplied,
		}})
		require.NoError(t, err)
	}

	t.Run("page is skipped without opening listings", func(t *testing.T) {
		h := newHarness(t, 1)
		seed(t, h)
		h.useStore(&flakyStore{readFailures: -1})
		h.portal.AddPage(1, map[string]*sitetest.Job{
			stored: {Detail: sitetest.GoodDirect("Stored")},
			fresh:  {Detail: sitetest.GoodDirect("Fresh")},
		}, stored, fresh)

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.Empty(t, h.portal.Opened())
		assert.Zero(t, summary.Total())
		assert.Zero(t, summary.Listings)
		assert.Equal(t, 1, summary.PagesVisited)
		assert.Len(t, h.store.Rows(), 1)
		assert.True(t, h.hasMessage("Skipping page 1"))
		assert.True(t, h.hasMessage("failed to check previous outcomes"))
	})

	t.Run("consecutive check failures stop early", func(t *testing.T) {
		h := newHarness(t, 5)
		seed(t, h)
		h.useStore(&flakyStore{readFailures: -1})
		h.portal.AddPage(1, map[string]*sitetest.Job{stored: {Detail: sitetest.GoodDirect("Stored")}}, stored)
		h.portal.AddPage(2, map[string]*sitetest.Job{fresh: {Detail: sitetest.GoodDirect("Fresh")}}, fresh)
		h.portal.AddPage(3, map[string]*sitetest.Job{later: {Detail: sitetest.GoodDirect("Later")}}, later)

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.True(t, summary.StoppedEarly)
		assert.Equal(t, 2, summary.PagesVisited)
		assert.Empty(t, h.portal.Opened())
		assert.True(t, h.hasMessage("consecutive failed pages"))
	})

	t.Run("listing seen on a skipped page is processed later", func(t *testing.T) {
		h := newHarness(t, 2)
		seed(t, h)
		h.useStore(&flakyStore{readFailures: 1})
		jobs := map[string]*sitetest.Job{
			stored: {Detail: sitetest.GoodDirect("Stored")},
			fresh:  {Detail: sitetest.GoodDirect("Fresh")},
		}
		h.portal.AddPage(1, jobs, stored, fresh)
		h.portal.AddPage(2, jobs, stored, fresh)

		summary, err := h.run(t, nil)
		require.NoError(t, err)
		assert.False(t, summary.StoppedEarly)
		assert.Equal(t, []string{fresh}, h.portal.Opened())
		assert.Equal(t, 1, summary.Applied)
		assert.Equal(t, 1, summary.Duplicates)
		assert.Equal(t, 2, summary.Listings)
	})
}

func TestRun_ChatbotStopped(t *testing.T) {
	const (
		chatty = "https://portal.example.com/chatty"
		next   = "https://portal.example.com/next"
	)

	tests := []struct {
		name         string
		chat         []site.ChatState
		stop         func(p *sitetest.Portal) bool
		wantStatus   types.ApplicationStatus
		wantAnswered int
	}{
		{
			name: "after two answers",
			chat: []site.ChatState{
				{Open: true, Question: sitetest.Question("1", "Why this role?")},
				{Open: true, Question: sitetest.Question("2", "Describe your last project")},
				{Open: true, Question: sitetest.Question("3", "Anything else?")},
				{Submitted: true},
			},
			stop:         func(p *sitetest.Portal) bool { return len(p.Answers()) >= 2 },
			wantStatus:   types.StatusApplied,
			wantAnswered: 2,
		},
		{
			name:       "before any answer",
			chat:       []site.ChatState{{Open: true}},
			stop:       func(p *sitetest.Portal) bool { return p.Polls() >= 1 },
			wantStatus: types.StatusSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			h.portal.AddPage(1, map[string]*sitetest.Job{
				chatty: {Detail: sitetest.GoodDirect("Chatty"), Chat: tt.chat},
				next:   {Detail: sitetest.GoodDirect("Next")},
			}, chatty, next)

			summary, err := h.run(t, stopFunc(func() bool { return tt.stop(h.portal) }))
			require.NoError(t, err)

			got := h.outcome(t, chatty)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, types.ReasonCancelled, got.Reason)
			assert.Equal(t, tt.wantAnswered, got.QuestionsAnswered)
			assert.Len(t, h.portal.Answers(), tt.wantAnswered)
			assert.Equal(t, []string{chatty}, h.portal.Opened())
			assert.True(t, summary.Cancelled)
			assert.Equal(t, 1, summary.Persisted)
		})
	}
}

func TestRun_ChatbotPollErrors(t *testing.T) {
	const url = "https://portal.example.com/flaky-chat"
	h := newHarness(t, 1)
	h.portal.AddPage(1, map[string]*sitetest.Job{url: {
		Detail:  sitetest.GoodDirect("Flaky"),
		PollErr: errors.New("dialog detached"),
	}}, url)

	_, err := h.run(t, nil)
	require.NoError(t, err)

	got := h.outcome(t, url)
	assert.Equal(t, types.StatusSkipped, got.Status)
	assert.Equal(t, types.ReasonChatbotTimeout, got.Reason)
	assert.Zero(t, got.QuestionsAnswered)
	assert.Equal(t, h.opts.MaxChatPolls, h.portal.Polls())
}
