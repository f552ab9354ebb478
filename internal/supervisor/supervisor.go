// Package supervisor owns the process-wide automation run: it enforces
// single-flight execution, tracks the run state, and guarantees that the
// browser and the run lock are released however the run ends.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/orchestrator"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/types"
)

var (
	// ErrAlreadyRunning is returned when a run is active or the lock is held elsewhere.
	ErrAlreadyRunning = errors.New("automation is already running")
	// ErrNotRunning is returned by Stop when there is no active run.
	ErrNotRunning = errors.New("automation is not running")
	// ErrNothingToDrain is returned by Drain when no run has finished.
	ErrNothingToDrain = errors.New("no finished run to drain")
)

// Runner executes one run on a launched session.
type Runner interface {
	Run(ctx context.Context, session site.Session, cfg types.RunConfiguration, stop orchestrator.StopFlag) (types.RunSummary, error)
}

// History records run start and finish. Failures are logged, never fatal.
type History interface {
	CreateRun(ctx context.Context, runID, userID uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, runID uuid.UUID, state types.RunState, summary types.RunSummary, runErr string) error
}

// Deps are the collaborators of a Supervisor. Locker defaults to a
// LocalLocker; History and Logger are optional.
type Deps struct {
	Launcher site.Launcher
	Runner   Runner
	Events   *runlog.Log
	Sink     *results.Sink
	Locker   Locker
	History  History
	Logger   *slog.Logger
}

// Status is a snapshot of the supervisor.
type Status struct {
	State      types.RunState    `json:"state"`
	IsRunning  bool              `json:"is_running"`
	RunID      string            `json:"run_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	EventCount int               `json:"log_count"`
	LastEvent  *types.LogEvent   `json:"last_event,omitempty"`
	Summary    *types.RunSummary `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// RunResult is the terminal record of a run.
type RunResult struct {
	RunID      uuid.UUID        `json:"run_id"`
	UserID     uuid.UUID        `json:"user_id"`
	State      types.RunState   `json:"state"`
	Summary    types.RunSummary `json:"summary"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// RunHandle tracks one started run.
type RunHandle struct {
	RunID  uuid.UUID
	done   chan struct{}
	result RunResult
}

// Done is closed once the run has reached a terminal state and released its resources.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx ends and returns its result.
func (h *RunHandle) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
	return h.result, nil
}

type stopFlag struct {
	requested atomic.Bool
}

func (f *stopFlag) StopRequested() bool {
	return f.requested.Load()
}

// Supervisor runs at most one automation run at a time. It is safe for
// concurrent use.
type Supervisor struct {
	deps  Deps
	owner string

	mu        sync.Mutex
	state     types.RunState
	runID     uuid.UUID
	userID    uuid.UUID
	startedAt time.Time
	stop      *stopFlag
	cancel    context.CancelFunc
	done      chan struct{}
	last      RunResult
	hasLast   bool
}

// New creates an idle Supervisor.
func New(deps Deps) *Supervisor {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Supervisor{
		deps:  deps,
		owner: fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()),
		state: types.RunStateIdle,
	}
}

// ---- Control ----

// Start begins a run in the background. It fails fast with ErrAlreadyRunning
// when a run is active here or holds the shared lock elsewhere. A finished but
// undrained run is drained implicitly, after which its RunResult is only
// available through its RunHandle.Wait.
func (s *Supervisor) Start(ctx context.Context, cfg types.RunConfiguration) (*RunHandle, error) {
	cfg.MaxPages = types.ClampMaxPages(cfg.MaxPages)
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return nil, ErrAlreadyRunning
	}
	ok, err := s.deps.Locker.TryAcquire(ctx, s.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	runID := uuid.New()
	s.deps.Events.Reset(runID.String())
	s.deps.Sink.Reset(cfg.UserID, runID)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.state = types.RunStateRunning
	s.runID = runID
	s.userID = cfg.UserID
	s.startedAt = time.Now().UTC()
	s.stop = &stopFlag{}
	s.cancel = cancel
	s.done = make(chan struct{})
	handle := &RunHandle{RunID: runID, done: s.done}

	s.deps.Events.Infof("Run started: up to %d pages", cfg.MaxPages)
	s.deps.Logger.Info("automation run started",
		slog.String("run_id", runID.String()),
		slog.String("user_id", cfg.UserID.String()),
		slog.Int("max_pages", cfg.MaxPages),
	)

	go s.execute(runCtx, cfg, handle, s.startedAt, s.stop)
	return handle, nil
}

// Stop asks the active run to stop at its next page, job, or chatbot poll
// boundary. In-flight browser calls are allowed to finish.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case types.RunStateRunning:
		s.state = types.RunStateStopping
		s.stop.requested.Store(true)
		s.deps.Events.Warnf("Stop requested")
		return nil
	case types.RunStateStopping:
		return nil
	default:
		return ErrNotRunning
	}
}

// Status returns a snapshot of the current or last run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:     s.state,
		IsRunning: s.state.Active(),
	}
	if s.state != types.RunStateIdle {
		st.RunID = s.runID.String()
		st.UserID = s.userID.String()
		started := s.startedAt
		st.StartedAt = &started
	}
	if s.state.Terminal() && s.hasLast {
		finished := s.last.FinishedAt
		summary := s.last.Summary
		st.FinishedAt = &finished
		st.Summary = &summary
		st.Error = s.last.Error
	}
	s.mu.Unlock()

	st.EventCount = s.deps.Events.Count()
	if last, ok := s.deps.Events.Last(); ok {
		st.LastEvent = &last
	}
	return st
}

// Drain returns the finished run's result and resets the state to idle.
func (s *Supervisor) Drain() (RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Active() {
		return RunResult{}, ErrAlreadyRunning
	}
	if !s.state.Terminal() {
		return RunResult{}, ErrNothingToDrain
	}
	s.state = types.RunStateIdle
	return s.last, nil
}

// Shutdown stops the active run and waits for it to release its resources.
// When ctx ends first the run is cancelled outright.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done, cancel := s.done, s.cancel
	active := s.state.Active()
	s.mu.Unlock()

	if !active {
		return nil
	}
	_ = s.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// ---- Run ----

func (s *Supervisor) execute(ctx context.Context, cfg types.RunConfiguration, handle *RunHandle, startedAt time.Time, stop *stopFlag) {
	runID := handle.RunID
	var (
		summary types.RunSummary
		runErr  error
	)
	logger := s.deps.Logger.With(slog.String("run_id", runID.String()))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("automation run panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			runErr = fmt.Errorf("internal error: %v", rec)
		}

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.Locker.Release(releaseCtx, s.owner); err != nil {
			logger.Warn("failed to release run lock", slog.Any("error", err))
		}
		cancel()

		handle.result = s.finish(runID, cfg.UserID, startedAt, summary, runErr)
		close(handle.done)
	}()

	s.recordStart(ctx, logger, runID, cfg.UserID, startedAt)

	session, err := s.deps.Launcher.Launch(ctx)
	if err != nil {
		runErr = err
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser", slog.Any("error", err))
		}
	}()

	summary, runErr = s.deps.Runner.Run(ctx, session, cfg, stop)
}

// finish moves the run to its terminal state.
func (s *Supervisor) finish(runID, userID uuid.UUID, startedAt time.Time, summary types.RunSummary, runErr error) RunResult {
	state := types.RunStateCompleted
	errText := ""
	if runErr != nil {
		state = types.RunStateFailed
		errText = classify(runErr)
		s.deps.Events.Errorf("Run failed: %s", errText)
	}
	if summary.Persisted == 0 {
		summary.Persisted = s.deps.Sink.Persisted()
	}

	result := RunResult{
		RunID:      runID,
		UserID:     userID,
		State:      state,
		Summary:    summary,
		Error:      errText,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}

	if s.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.deps.History.FinishRun(ctx, runID, state, summary, errText); err != nil {
			s.deps.Logger.Warn("failed to record run finish", slog.String("run_id", runID.String()), slog.Any("error", err))
		}
		cancel()
	}

	s.mu.Lock()
	s.state = state
	s.last = result
	s.hasLast = true
	s.cancel()
	s.mu.Unlock()

	s.deps.Logger.Info("automation run finished",
		slog.String("run_id", runID.String()),
		slog.String("state", string(state)),
		slog.Int("applied", summary.Applied),
		slog.Int("skipped", summary.Skipped),
		slog.Int("duplicates", summary.Duplicates),
	)
	return result
}

func (s *Supervisor) recordStart(ctx context.Context, logger *slog.Logger, runID, userID uuid.UUID, startedAt time.Time) {
	if s.deps.History == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.deps.History.CreateRun(hctx, runID, userID, startedAt); err != nil {
		logger.Warn("failed to record run start", slog.Any("error", err))
	}
}
