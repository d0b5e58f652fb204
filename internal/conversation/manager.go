// Package conversation implements the per-session state machine that
// drives the propose, accept, rollback and abort protocol on top of a
// workspace.
//
//	idle -> active -> pendingChanges -> linting -> committed -> active
//	                                           \-> active (recoverable failure)
//	                                           \-> error  (INTERNAL)
//	any  -> idle (abort)
//
// Only one transition runs at a time per session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/sdd/internal/apply"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/metrics"
	"github.com/roach88/sdd/internal/store"
)

// Workspace is what a session needs from the bundle handle.
// *workspace.Workspace satisfies it.
type Workspace interface {
	Root() string
	CheckPreconditions(ctx context.Context) error
	Apply(ctx context.Context, changes []ir.ProposedChange) (*apply.Result, error)
	Rollback(ctx context.Context) error
}

// Journal records session history. *store.Store satisfies it.
type Journal interface {
	WriteSession(ctx context.Context, sess store.Session) error
	WriteTransition(ctx context.Context, tr store.Transition) error
	WriteApplyRecord(ctx context.Context, rec store.ApplyRecord) error
}

// Sequencer stamps journal rows with increasing seq numbers. *Clock
// satisfies it.
type Sequencer interface {
	Next() int64
}

// Events recorded with transitions.
const (
	EventStart    = "start"
	EventSend     = "send"
	EventPropose  = "propose"
	EventAccept   = "accept"
	EventRollback = "rollback"
	EventAbort    = "abort"
)

// ErrAborted is returned to operations queued behind an Abort.
var ErrAborted = ir.Errorf(ir.CodeBadRequest, "session was aborted")

// Manager creates and tracks sessions over one workspace.
type Manager struct {
	ws      Workspace
	backend AgentBackend
	ids     IDGenerator
	clock   Sequencer
	journal Journal
	logger  *slog.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend sets the agent backend used by Send.
func WithBackend(b AgentBackend) Option {
	return func(m *Manager) {
		m.backend = b
	}
}

// WithIDGenerator sets the session id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithClock sets the logical clock for journal rows. Default: NewClock().
func WithClock(c Sequencer) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithJournal records sessions, transitions and apply outcomes to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics counts transitions.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// NewManager creates a Manager over ws.
func NewManager(ws Workspace, opts ...Option) *Manager {
	m := &Manager{
		ws:       ws,
		ids:      UUIDv7Generator{},
		clock:    NewClock(),
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session and moves it from idle to active.
//
// When the precondition check fails the session is still returned, idle
// with LastError set, together with the error; Session.Start retries.
func (m *Manager) Start(ctx context.Context, c Context) (*Session, error) {
	s := &Session{
		m:     m,
		state: ConversationState{ID: m.ids.Generate(), Status: StatusIdle, Context: c},
	}
	s.state.Context.Focus = append([]ir.EntityRef(nil), c.Focus...)

	m.mu.Lock()
	m.sessions[s.state.ID] = s
	m.mu.Unlock()

	if m.journal != nil {
		err := m.journal.WriteSession(ctx, store.Session{
			ID:         s.state.ID,
			BundlePath: m.ws.Root(),
			Context:    c.journal(),
			Seq:        m.clock.Next(),
		})
		if err != nil {
			m.logger.Warn("journal write failed", "session", s.state.ID, "error", err)
		}
	}

	if _, err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Session returns a tracked session.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the tracked session ids, sorted.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session is one conversation.
type Session struct {
	m *Manager

	// op serializes transitions.
	op sync.Mutex
	// generation is bumped by Abort; operations queued before it are rejected.
	genMu      sync.Mutex
	generation uint64

	mu    sync.RWMutex
	state ConversationState
}

// ID returns the session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID
}

// State returns a copy of the current state. It never waits for a
// transition in flight.
func (s *Session) State() ConversationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Start moves an idle session to active when the precondition check passes.
func (s *Session) Start(ctx context.Context) (ConversationState, error) {
	return s.run(ctx, EventStart, func(ctx context.Context) error {
		if err := s.require(StatusIdle); err != nil {
			return err
		}
		if err := s.m.ws.CheckPreconditions(ctx); err != nil {
			s.fail(ctx, EventStart, StatusIdle, err)
			return err
		}
		s.transition(ctx, EventStart, StatusActive, func(st *ConversationState) {
			st.LastError = nil
		})
		return nil
	})
}

// ProposeChanges moves an active session to pendingChanges. Proposing
// again while changes are pending replaces them.
func (s *Session) ProposeChanges(ctx context.Context, changes []ir.ProposedChange) (ConversationState, error) {
	return s.run(ctx, EventPropose, func(ctx context.Context) error {
		return s.propose(ctx, changes)
	})
}

func (s *Session) propose(ctx context.Context, changes []ir.ProposedChange) error {
	if err := s.require(StatusActive, StatusPendingChanges); err != nil {
		return err
	}
	if len(changes) == 0 {
		return ir.Errorf(ir.CodeBadRequest, "no changes proposed")
	}
	s.transition(ctx, EventPropose, StatusPendingChanges, func(st *ConversationState) {
		st.PendingChanges = append([]ir.ProposedChange(nil), changes...)
		st.LastError = nil
	})
	return nil
}

// AcceptChanges applies the pending changes.
//
// On success the session passes through linting and committed back to
// active with LastCommit set. A recoverable failure discards the pending
// changes and returns to active with LastError set. An INTERNAL failure
// moves the session to error.
func (s *Session) AcceptChanges(ctx context.Context) (ConversationState, error) {
	return s.run(ctx, EventAccept, func(ctx context.Context) error {
		if err := s.require(StatusPendingChanges); err != nil {
			return err
		}
		changes := s.State().PendingChanges
		s.transition(ctx, EventAccept, StatusLinting, nil)

		res, err := s.m.ws.Apply(ctx, changes)
		s.record(ctx, changes, res, err)
		if err != nil {
			next := StatusActive
			if !ir.Recoverable(err) {
				next = StatusError
			}
			s.fail(ctx, EventAccept, next, err)
			return err
		}

		s.transition(ctx, EventAccept, StatusCommitted, func(st *ConversationState) {
			st.PendingChanges = nil
			st.LastError = nil
			st.LastCommit = &Commit{Ref: res.CommitRef, ChangeSetID: res.ChangeSetID, Touched: res.Touched}
			st.Messages = append(st.Messages, Message{
				Role: RoleSystem,
				Text: fmt.Sprintf("committed %d change(s) as %s", len(changes), res.CommitRef),
			})
		})
		s.transition(ctx, EventAccept, StatusActive, nil)
		return nil
	})
}

// Rollback discards pending changes and returns to active. With nothing
// pending it does nothing.
func (s *Session) Rollback(ctx context.Context) (ConversationState, error) {
	return s.run(ctx, EventRollback, func(ctx context.Context) error {
		if s.State().Status != StatusPendingChanges {
			return nil
		}
		if err := s.m.ws.Rollback(ctx); err != nil {
			s.fail(ctx, EventRollback, StatusError, err)
			return err
		}
		s.transition(ctx, EventRollback, StatusActive, func(st *ConversationState) {
			st.PendingChanges = nil
		})
		return nil
	})
}

// Abort returns the session to idle from any state and always rolls back.
//
// Operations queued behind Abort are rejected with ErrAborted. An accept
// already in flight is not cancelled: Abort waits for it to finish and
// then rolls back.
func (s *Session) Abort(ctx context.Context) (ConversationState, error) {
	s.genMu.Lock()
	s.generation++
	s.genMu.Unlock()

	s.op.Lock()
	defer s.op.Unlock()

	err := s.m.ws.Rollback(ctx)
	if err != nil {
		s.m.logger.Warn("rollback on abort failed", "session", s.ID(), "error", err)
	}
	s.transition(ctx, EventAbort, StatusIdle, func(st *ConversationState) {
		*st = ConversationState{ID: st.ID, Status: st.Status, Context: st.Context}
	})
	return s.State(), err
}

// Send delivers text to the agent backend. Changes in the reply are
// proposed as if ProposeChanges had been called.
func (s *Session) Send(ctx context.Context, text string) (ConversationState, error) {
	return s.run(ctx, EventSend, func(ctx context.Context) error {
		if s.m.backend == nil {
			return ir.Errorf(ir.CodeBadRequest, "no agent backend configured")
		}
		if err := s.require(StatusActive, StatusPendingChanges); err != nil {
			return err
		}
		s.update(func(st *ConversationState) {
			st.Messages = append(st.Messages, Message{Role: RoleUser, Text: text})
		})

		reply, err := s.m.backend.SendMessage(ctx, s.State(), text)
		if err != nil {
			werr := ir.WrapError(ir.CodeInternal, "agent backend failed", err)
			s.update(func(st *ConversationState) { st.LastError = werr })
			return werr
		}
		s.update(func(st *ConversationState) {
			st.Messages = append(st.Messages, Message{Role: RoleAgent, Text: reply.Text})
		})
		if len(reply.Changes) == 0 {
			return nil
		}
		return s.propose(ctx, reply.Changes)
	})
}

// run executes one transition under the session's operation lock,
// rejecting it if an Abort was requested while it waited.
func (s *Session) run(ctx context.Context, event string, fn func(context.Context) error) (ConversationState, error) {
	s.genMu.Lock()
	gen := s.generation
	s.genMu.Unlock()

	s.op.Lock()
	defer s.op.Unlock()

	s.genMu.Lock()
	aborted := gen != s.generation
	s.genMu.Unlock()
	if aborted {
		return s.State(), ErrAborted
	}

	err := fn(ctx)
	if err != nil {
		s.m.logger.Info("session operation failed", "session", s.ID(), "event", event, "code", ir.CodeOf(err), "error", err)
	}
	return s.State(), err
}

func (s *Session) require(allowed ...Status) error {
	status := s.State().Status
	for _, a := range allowed {
		if status == a {
			return nil
		}
	}
	return ir.Errorf(ir.CodeBadRequest, "operation not allowed in status %s", status)
}

func (s *Session) update(fn func(*ConversationState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// transition moves to status, applying fn to the state first, then
// journals and counts the change.
func (s *Session) transition(ctx context.Context, event string, to Status, fn func(*ConversationState)) {
	s.transitionWithError(ctx, event, to, nil, fn)
}

// fail records err as LastError and moves to status. Pending changes are
// discarded.
func (s *Session) fail(ctx context.Context, event string, to Status, err error) {
	var e *ir.Error
	if !errors.As(err, &e) {
		e = ir.WrapError(ir.CodeInternal, err.Error(), err)
	}
	s.transitionWithError(ctx, event, to, e, func(st *ConversationState) {
		st.PendingChanges = nil
		st.LastError = e
	})
}

func (s *Session) transitionWithError(ctx context.Context, event string, to Status, cause *ir.Error, fn func(*ConversationState)) {
	s.mu.Lock()
	from := s.state.Status
	if fn != nil {
		fn(&s.state)
	}
	s.state.Status = to
	id := s.state.ID
	s.mu.Unlock()

	s.m.metrics.ObserveTransition(string(from), string(to))
	log := s.m.logger.With("session", id, "event", event, "from", from, "to", to)
	if cause != nil {
		log.Warn("session transition", "code", cause.Code, "error", cause.Message)
	} else {
		log.Info("session transition")
	}

	if s.m.journal == nil {
		return
	}
	tr := store.Transition{
		SessionID: id,
		Seq:       s.m.clock.Next(),
		From:      string(from),
		To:        string(to),
		Event:     event,
	}
	if cause != nil {
		tr.ErrorCode = string(cause.Code)
		tr.Message = cause.Message
	}
	if err := s.m.journal.WriteTransition(ctx, tr); err != nil {
		s.m.logger.Warn("journal write failed", "session", id, "error", err)
	}
}

// record journals the outcome of one apply.
func (s *Session) record(ctx context.Context, changes []ir.ProposedChange, res *apply.Result, err error) {
	if s.m.journal == nil {
		return
	}
	rec := store.ApplyRecord{SessionID: s.ID(), Seq: s.m.clock.Next()}
	if id, herr := ir.ChangeSetID(changes); herr == nil {
		rec.ChangeSetID = id
	}
	switch {
	case err == nil:
		rec.Outcome = metrics.OutcomeCommitted
		rec.CommitRef = res.CommitRef
		rec.Touched = res.Touched
		rec.Diagnostics = res.Diagnostics
	default:
		rec.ErrorCode = string(ir.CodeOf(err))
		rec.Outcome = outcomeOf(err)
		var e *ir.Error
		if errors.As(err, &e) {
			rec.Diagnostics = e.Diagnostics
		}
	}
	if jerr := s.m.journal.WriteApplyRecord(ctx, rec); jerr != nil {
		s.m.logger.Warn("journal write failed", "session", rec.SessionID, "error", jerr)
	}
}

func outcomeOf(err error) string {
	switch ir.CodeOf(err) {
	case ir.CodeValidation, ir.CodeReference:
		return metrics.OutcomeRolledBack
	case ir.CodeInternal:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}
