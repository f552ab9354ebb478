// Package runlog holds the append-only event log of the current automation run.
package runlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonathan/apply-autopilot/internal/types"
)

// Log is the event log of one run. Events are numbered from 1 and carry
// strictly increasing timestamps. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	runID   string
	events  []types.LogEvent
	last    time.Time
	subs    map[int]chan struct{}
	nextSub int
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an empty log that mirrors every event to logger.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		subs:   make(map[int]chan struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// Reset clears the log for a new run.
func (l *Log) Reset(runID string) {
	l.mu.Lock()
	l.runID = runID
	l.events = nil
	l.notifyLocked()
	l.mu.Unlock()
}

// Log appends an event and returns it.
func (l *Log) Log(level types.LogLevel, message string) types.LogEvent {
	l.mu.Lock()
	ts := l.now()
	if !ts.After(l.last) {
		ts = l.last.Add(time.Nanosecond)
	}
	l.last = ts
	event := types.LogEvent{
		Seq:       len(l.events) + 1,
		Timestamp: ts,
		Level:     level,
		Message:   message,
	}
	l.events = append(l.events, event)
	runID := l.runID
	l.notifyLocked()
	l.mu.Unlock()

	l.logger.Log(context.Background(), slogLevel(level), message,
		slog.String("run_id", runID),
		slog.String("event_level", string(level)),
		slog.Int("seq", event.Seq),
	)
	return event
}

// Infof logs an info event.
func (l *Log) Infof(format string, args ...any) {
	l.Log(types.LevelInfo, fmt.Sprintf(format, args...))
}

// Successf logs a success event.
func (l *Log) Successf(format string, args ...any) {
	l.Log(types.LevelSuccess, fmt.Sprintf(format, args...))
}

// Warnf logs a warning event.
func (l *Log) Warnf(format string, args ...any) {
	l.Log(types.LevelWarning, fmt.Sprintf(format, args...))
}

// Errorf logs an error event.
func (l *Log) Errorf(format string, args ...any) {
	l.Log(types.LevelError, fmt.Sprintf(format, args...))
}

// Events returns a copy of every event in order.
func (l *Log) Events() []types.LogEvent {
	return l.Since(0)
}

// Since returns the events with Seq greater than seq.
func (l *Log) Since(seq int) []types.LogEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.events) {
		return []types.LogEvent{}
	}
	out := make([]types.LogEvent, len(l.events)-seq)
	copy(out, l.events[seq:])
	return out
}

// Last returns the most recent event.
func (l *Log) Last() (types.LogEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return types.LogEvent{}, false
	}
	return l.events[len(l.events)-1], true
}

// Count returns the number of events.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// RunID returns the run the log currently belongs to.
func (l *Log) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Subscribe returns a channel that receives a signal whenever the log changes,
// and a function that cancels the subscription. Signals coalesce; readers
// catch up with Since.
func (l *Log) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
}

func (l *Log) notifyLocked() {
	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func slogLevel(level types.LogLevel) slog.Level {
	switch level {
	case types.LevelWarning:
		return slog.LevelWarn
	case types.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
