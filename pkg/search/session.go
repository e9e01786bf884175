// Package search implements the streaming query state machine, the
// bounded query history and the result export artifact.
//
// A session accumulates partial results for exactly one generation, the
// currently active request. The transport has no way to abort
// server-side work, so a superseded request keeps streaming; its
// results are discarded here rather than merged.
package search

import (
	"strings"

	"github.com/odvcencio/periscope/pkg/errors"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/protocol"
	"github.com/odvcencio/periscope/pkg/telemetry"
)

// SessionState is the query lifecycle state.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateSubmitting SessionState = "submitting"
	StateStreaming  SessionState = "streaming"
	StateCompleted  SessionState = "completed"
)

// Sender dispatches a message on the streaming channel, fire-and-forget.
type Sender interface {
	Send(protocol.Message)
}

// Result is one accumulated match. Expanded is view state only; it
// never affects accumulation or export.
type Result struct {
	File         string
	LineNumber   int
	Content      string
	ContextLines []string
	Expanded     bool

	generation uint64
}

// Summary describes a completed search.
type Summary struct {
	DurationMs   int64
	FilesScanned int
}

// Session is the streaming query state machine. It is driven entirely
// from the console loop; methods are not safe for concurrent use.
type Session struct {
	sender  Sender
	history *History
	logger  *logging.Logger

	state       SessionState
	generation  uint64
	query       string
	options     protocol.SearchOptions
	results     []Result
	summary     *Summary
	hasSearched bool
}

// NewSession creates an idle session.
func NewSession(sender Sender, history *History, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &Session{
		sender:  sender,
		history: history,
		logger:  logger,
		state:   StateIdle,
	}
}

// Submit starts a new search generation. A blank query (after trimming)
// is rejected locally with a ValidationError; nothing reaches the
// network. A submit while a previous search is still streaming
// supersedes it: the old partial results are discarded.
func (s *Session) Submit(query string, opts protocol.SearchOptions) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New(errors.ErrCodeValidation, "query must not be blank").
			WithUserMessage("Enter a search query")
	}

	s.generation++
	s.state = StateSubmitting
	s.query = query
	s.options = opts
	s.results = nil
	s.summary = nil

	if s.history != nil {
		s.history.Record(query, opts)
	}
	s.sender.Send(protocol.NewGrepSearch(query, opts))
	s.logger.Info(logging.CategorySearch, "submitted", query, map[string]any{"generation": s.generation})
	return nil
}

// HandleMessage routes an inbound streaming message. Message kinds the
// session does not own cause no state transition.
func (s *Session) HandleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.GrepStarted:
		s.handleStarted()
	case protocol.GrepResult:
		s.handleResult(m.Result)
	case protocol.GrepCompleted:
		s.handleCompleted(m.DurationMs, m.SearchedFiles)
	}
}

func (s *Session) handleStarted() {
	if s.state != StateSubmitting {
		return
	}
	s.state = StateStreaming
	s.hasSearched = true
}

func (s *Session) handleResult(payload protocol.ResultPayload) {
	if s.state != StateStreaming {
		// Either no search is active or the stream belongs to a
		// superseded generation still draining.
		telemetry.StaleResults.Inc()
		s.logger.Debug(logging.CategorySearch, "stale_result", payload.File, map[string]any{"state": string(s.state)})
		return
	}
	telemetry.SearchResults.Inc()
	s.results = append(s.results, Result{
		File:         payload.File,
		LineNumber:   payload.LineNumber,
		Content:      payload.Content,
		ContextLines: payload.ContextLines,
		generation:   s.generation,
	})
}

func (s *Session) handleCompleted(durationMs int64, filesScanned int) {
	if s.state != StateStreaming {
		// A completion for a superseded generation.
		return
	}
	s.state = StateCompleted
	s.summary = &Summary{DurationMs: durationMs, FilesScanned: filesScanned}
	s.logger.Info(logging.CategorySearch, "completed", s.query, map[string]any{
		"results":  len(s.results),
		"duration": durationMs,
		"files":    filesScanned,
	})
}

// Clear resets the session to idle from any state, discarding results,
// summary and the has-searched flag. Accumulated results otherwise
// persist after completion.
func (s *Session) Clear() {
	s.state = StateIdle
	s.results = nil
	s.summary = nil
	s.hasSearched = false
}

// Results returns the accumulated results of the current generation.
// Results tagged with a superseded generation never surface.
func (s *Session) Results() []Result {
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		if r.generation == s.generation {
			out = append(out, r)
		}
	}
	return out
}

// SetExpanded flips the view-only expanded flag on one result.
func (s *Session) SetExpanded(index int, expanded bool) {
	if index < 0 || index >= len(s.results) {
		return
	}
	s.results[index].Expanded = expanded
}

// State returns the lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Generation returns the monotonic counter identifying the active
// request.
func (s *Session) Generation() uint64 { return s.generation }

// Query returns the trimmed text of the active request.
func (s *Session) Query() string { return s.query }

// Summary returns the completion summary, or nil before completion.
func (s *Session) Summary() *Summary { return s.summary }

// HasSearched reports whether any search reached streaming since the
// last Clear.
func (s *Session) HasSearched() bool { return s.hasSearched }
