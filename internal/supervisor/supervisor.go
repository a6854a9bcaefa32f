package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/relaylink/internal/connection"
	"github.com/rickgao/relaylink/internal/journal"
	"github.com/rickgao/relaylink/internal/policy"
)

const journalTimeout = 2 * time.Second

// Supervisor owns the relay connection.
type Supervisor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	client          connection.Client
	session         *session
	sessionID       string
	closing         bool // teardown of the current connection in progress
	shutdown        bool
	deadline        time.Time
	stopped         bool
	stopCode        int
	stopReason      string
	lastCode        int
	lastReason      string
	versionMismatch bool
}

// New creates a supervisor in the Closed state.
func New(cfg Config, deps Deps, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.NewClient == nil {
		deps.NewClient = func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client {
			return connection.NewClient(cfg, logger)
		}
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// CheckConnection opens, keeps or closes the connection. It is safe to call
// at any rate; the guards make repeated calls no-ops while an attempt is in
// flight or a reconnect deadline has not passed.
func (s *Supervisor) CheckConnection(ctx context.Context) {
	s.mu.Lock()

	if s.shutdown || s.state == StateOpening || s.closing {
		s.mu.Unlock()
		return
	}
	if s.deps.Now().Before(s.deadline) {
		s.mu.Unlock()
		return
	}
	if s.stopped {
		s.mu.Unlock()
		return
	}

	want := s.shouldConnect()

	if s.state == StateOpen && want {
		s.mu.Unlock()
		return
	}

	if s.client != nil && !want {
		s.mu.Unlock()
		s.logger.Info("relay connection no longer wanted, closing")
		s.closeCurrent(ctx)
		return
	}

	if !want {
		s.mu.Unlock()
		return
	}

	s.open(ctx)
}

// open dials a new connection. Must be called with s.mu held; it releases it.
func (s *Supervisor) open(ctx context.Context) {
	s.deadline = time.Time{}
	s.state = StateOpening
	s.sessionID = newSessionID()
	sessionID := s.sessionID

	cfg := s.cfg.Client
	if s.cfg.Headers != nil {
		cfg.Header = s.cfg.Headers()
	} else {
		cfg.Header = http.Header{}
	}
	client := s.deps.NewClient(cfg, s.logger)
	s.client = client
	s.mu.Unlock()

	s.transition(sessionID, StateClosed, StateOpening)

	if err := client.Connect(ctx); err != nil {
		code, reason := connection.DialCode(err)
		s.logger.Warn("relay connection failed", "code", code, "reason", reason, "error", err)
		s.handleClose(client, code, reason, false)
		return
	}

	s.mu.Lock()
	if s.client != client || s.closing || s.shutdown {
		// Shut down while dialing.
		s.mu.Unlock()
		client.Close()
		return
	}
	now := s.deps.Now()
	sess := newSession(sessionID, client, s.cfg, s.deps, now, s.logger)
	s.session = sess
	s.state = StateOpen
	sess.start(func(code int, reason string) {
		s.handleClose(client, code, reason, true)
	})
	s.mu.Unlock()

	s.transition(sessionID, StateOpening, StateOpen)
}

// handleClose decides what happens after client ended. Closes from a client
// that is no longer current are ignored. The decision is latched before the
// session is torn down, and teardown completes before the state returns to
// Closed, so no new connection can open in between.
func (s *Supervisor) handleClose(client connection.Client, code int, reason string, fromLoop bool) {
	s.mu.Lock()
	if s.client != client || s.closing {
		s.mu.Unlock()
		return
	}

	decision := s.deps.Policy.Decide(code, reason)
	from := s.state
	sessionID := s.sessionID
	s.closing = true
	s.lastCode, s.lastReason = code, reason

	if decision.ShouldStop {
		s.stopped = true
		s.stopCode = code
		s.stopReason = decision.Reason
		if decision.VersionMismatch {
			s.versionMismatch = true
		}
	} else {
		s.deadline = s.deps.Now().Add(decision.Delay)
	}

	sess := s.session
	s.session = nil
	s.mu.Unlock()

	removed := 0
	if sess != nil {
		removed = sess.teardown(fromLoop)
	}
	client.Close()

	s.mu.Lock()
	s.client = nil
	s.state = StateClosed
	s.closing = false
	s.mu.Unlock()

	if decision.ShouldStop {
		s.logger.Error("relay connection stopped",
			"code", code,
			"reason", decision.Reason,
			"subscriptions_removed", removed,
		)
	} else {
		s.logger.Warn("relay connection closed, will retry",
			"code", code,
			"reason", decision.Reason,
			"retry_in", decision.Delay,
			"subscriptions_removed", removed,
		)
	}

	s.transition(sessionID, from, StateClosed)
	s.record(journal.Event{
		SessionID: sessionID,
		Kind:      journal.KindClose,
		Code:      code,
		Reason:    decision.Reason,
		Delay:     decision.Delay,
	})

	if decision.InvalidateCredential && s.cfg.OnInvalidCredential != nil {
		s.cfg.OnInvalidCredential()
	}
	if decision.VersionMismatch && s.cfg.OnVersionMismatch != nil {
		s.cfg.OnVersionMismatch()
	}
}

// closeCurrent closes the current connection without a reconnect decision.
func (s *Supervisor) closeCurrent(ctx context.Context) {
	s.mu.Lock()
	client := s.client
	if client == nil || s.closing {
		s.mu.Unlock()
		return
	}
	from := s.state
	sessionID := s.sessionID
	sess := s.session
	s.session = nil
	s.closing = true
	s.mu.Unlock()

	removed := 0
	if sess != nil {
		removed = sess.teardown(false)
	}
	client.Close()

	s.mu.Lock()
	s.client = nil
	s.state = StateClosed
	s.closing = false
	s.mu.Unlock()

	s.logger.Info("relay connection closed", "subscriptions_removed", removed)
	s.transition(sessionID, from, StateClosed)
}

// Shutdown closes any connection and prevents new ones. It does not run the
// reconnect policy.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeCurrent(ctx)
	return nil
}

// Resume clears a permanent stop so the next check may reconnect. It
// reports whether a stop was cleared.
func (s *Supervisor) Resume() bool {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return false
	}
	reason := s.stopReason
	s.stopped = false
	s.stopCode = 0
	s.stopReason = ""
	s.mu.Unlock()

	s.logger.Info("relay connection resumed", "previous_stop", reason)
	s.record(journal.Event{Kind: journal.KindResume, Reason: reason})
	return true
}

// ResumeAfterCredentialChange clears a stop caused by a rejected credential.
// Other stops are left in place.
func (s *Supervisor) ResumeAfterCredentialChange() bool {
	s.mu.Lock()
	credentialStop := s.stopped && s.stopCode == policy.CodeInvalidCredential
	s.mu.Unlock()

	if !credentialStop {
		return false
	}
	return s.Resume()
}

// Status returns "OPEN" while the connection is open and "CLOSED" otherwise.
func (s *Supervisor) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen && !s.closing {
		return StatusOpen
	}
	return StatusClosed
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current supervisor state for health reporting.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Status:          StatusClosed,
		State:           s.state.String(),
		LastCloseCode:   s.lastCode,
		LastCloseReason: s.lastReason,
		Stopped:         s.stopped,
		StopReason:      s.stopReason,
		VersionMismatch: s.versionMismatch,
	}
	if s.state == StateOpen && !s.closing {
		snap.Status = StatusOpen
	}
	if s.state != StateClosed {
		snap.SessionID = s.sessionID
	}
	if s.session != nil {
		openedAt := s.session.openedAt
		snap.OpenedAt = &openedAt
		snap.Subscriptions = s.session.subs.Len()
	}
	if !s.deadline.IsZero() && s.deps.Now().Before(s.deadline) {
		deadline := s.deadline
		snap.ReconnectAt = &deadline
	}
	return snap
}

func (s *Supervisor) shouldConnect() bool {
	return s.cfg.ShouldConnect == nil || s.cfg.ShouldConnect()
}

func (s *Supervisor) transition(sessionID string, from, to State) {
	s.logger.Info("relay connection state changed",
		"from", from.String(),
		"to", to.String(),
		"session_id", sessionID,
	)
	s.record(journal.Event{
		SessionID: sessionID,
		Kind:      journal.KindTransition,
		From:      from.String(),
		To:        to.String(),
	})
}

func (s *Supervisor) record(ev journal.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := s.deps.Journal.Record(ctx, ev); err != nil {
		s.logger.Warn("failed to record journal event", "kind", ev.Kind, "error", err)
	}
}
