package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/server/middleware"
	"github.com/jonathan/apply-autopilot/internal/types"
)

const (
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 500
)

// startRequest is the optional body of POST /automation/start.
type startRequest struct {
	MaxPages  int    `json:"max_pages" validate:"gte=0"`
	SearchURL string `json:"search_url" validate:"omitempty,url"`
}

type startResponse struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id"`
}

type logsResponse struct {
	RunID  string           `json:"run_id,omitempty"`
	Events []types.LogEvent `json:"events"`
	Next   int              `json:"next"`
}

// handleHealth reports liveness and, when configured, storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			s.logger.Warn("health check failed", slog.Any("error", err))
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart builds the caller's run configuration and starts a run.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.handleError(w, validationError(err))
		return
	}

	cfg, err := s.deps.Builder.Build(r.Context(), userID, runconfig.Overrides{
		SearchURL: req.SearchURL,
		MaxPages:  req.MaxPages,
	})
	if err != nil {
		s.handleError(w, err)
		return
	}

	handle, err := s.deps.Supervisor.Start(r.Context(), cfg)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, startResponse{Accepted: true, RunID: handle.RunID.String()})
}

// handleStop requests cooperative cancellation of the active run.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Supervisor.Stop(); err != nil {
		s.handleError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ack": true, "state": types.RunStateStopping})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.deps.Supervisor.Status())
}

// handleLogs returns the events after ?since=N. Next is the value to pass as
// since on the following poll.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0)
	if err != nil || since < 0 {
		s.handleError(w, &ErrValidation{Field: "since", Message: "must be a non-negative integer"})
		return
	}

	events := s.deps.Events.Since(since)
	next := since + len(events)
	if since > s.deps.Events.Count() {
		// The log was reset by a new run; start over.
		events = s.deps.Events.Events()
		next = len(events)
	}
	s.jsonResponse(w, http.StatusOK, logsResponse{RunID: s.deps.Events.RunID(), Events: events, Next: next})
}

// handleLogStream streams run log events as SSE until the client disconnects.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since", 0)
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		since, err = strconv.Atoi(id)
	}
	if err != nil || since < 0 {
		s.handleError(w, &ErrValidation{Field: "since", Message: "must be a non-negative integer"})
		return
	}

	notify, unsubscribe := s.deps.Events.Subscribe()
	defer unsubscribe()

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	heartbeat := time.NewTicker(s.keepAlive)
	defer heartbeat.Stop()

	sent := since
	runID := s.deps.Events.RunID()
	for {
		if current := s.deps.Events.RunID(); current != runID || s.deps.Events.Count() < sent {
			runID, sent = current, 0
			if err := sse.WriteEvent("reset", "", map[string]string{"run_id": runID}); err != nil {
				return
			}
		}
		for _, ev := range s.deps.Events.Since(sent) {
			if err := sse.WriteEvent("log", strconv.Itoa(ev.Seq), ev); err != nil {
				return
			}
			sent = ev.Seq
		}

		select {
		case <-r.Context().Done():
			return
		case <-notify:
		case <-heartbeat.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// handleOutcomes lists the caller's persisted outcomes, newest first.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.deps.Outcomes == nil {
		s.errorResponse(w, http.StatusNotImplemented, "outcome storage is not configured")
		return
	}

	limit, err := queryInt(r, "limit", defaultOutcomeLimit)
	if err != nil || limit < 1 {
		s.handleError(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
		return
	}
	limit = min(limit, maxOutcomeLimit)

	outcomes, err := s.deps.Outcomes.ListOutcomes(r.Context(), userID, limit)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []types.JobOutcome{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"outcomes": outcomes, "count": len(outcomes)})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// validationError converts the first validator failure into an ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ErrValidation{Field: fe.Field(), Message: "failed on the '" + fe.Tag() + "' rule"}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}
