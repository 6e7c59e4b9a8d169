package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byteagent/byte/internal/protocol"
	"github.com/byteagent/byte/internal/turn"
)

var (
	// ErrTurnInFlight indicates a Send while the previous turn has not
	// reached a terminal state. The protocol has no multiplexed-turn
	// identifier, so concurrent in-flight turns over one channel are
	// undefined behavior and must be prevented here at the call site.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrTurnAbandoned reports an in-flight turn lost to a transport
	// failure. There are no sequence numbers on the wire, so the turn is
	// abandoned rather than resumed; the caller must re-submit.
	ErrTurnAbandoned = errors.New("in-flight turn abandoned: connection lost")

	// ErrTurnCancelled reports a user-initiated stop of the current turn.
	ErrTurnCancelled = errors.New("turn cancelled")

	// ErrSessionClosed indicates the session loop has exited.
	ErrSessionClosed = errors.New("session closed")
)

// UpdateKind discriminates session updates.
type UpdateKind int

const (
	// UpdateSnapshot carries a fresh read-only view of the in-flight turn,
	// emitted after every applied event for incremental rendering.
	UpdateSnapshot UpdateKind = iota

	// UpdateTurn carries a finalized turn, successful or failed.
	UpdateTurn

	// UpdateTurnAborted reports a turn that ended without a terminal
	// event: abandoned on disconnect or cancelled by the user. Err says
	// which.
	UpdateTurnAborted

	// UpdateConnState reports a connection state change. A non-nil Err
	// alongside StateClosed is the persistent-disconnection signal.
	UpdateConnState
)

// Update is the discriminated union delivered to the UI layer. Exactly the
// fields implied by Kind are set.
type Update struct {
	Kind     UpdateKind
	Snapshot *turn.Snapshot
	Turn     *turn.Turn
	State    State
	Err      error
}

// ThreadStore is the slice of the thread store the session consumes:
// appending finalized turns and reading history on thread switch.
type ThreadStore interface {
	AppendTurn(ctx context.Context, t *turn.Turn) error
	History(ctx context.Context, threadID string) ([]*turn.Turn, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Supervisor *Supervisor // required
	Store      ThreadStore // optional: nil disables local persistence
	ThreadID   string      // empty starts a new conversation
	Mode       string      // protocol.ModeSimple when empty
	Logger     *slog.Logger

	// UpdateBuffer sizes the updates channel. Default 64.
	UpdateBuffer int
}

// Session runs the client side of one chat conversation.
//
// All turn state is processed on a single event loop (Run); events are folded
// strictly in arrival order and the accumulator is never touched from another
// goroutine, so ordering rather than locking is the correctness mechanism.
// Send, StopGeneration and ThreadID are safe to call from other goroutines.
type Session struct {
	sup    *Supervisor
	store  ThreadStore
	logger *slog.Logger
	mode   string

	updates  chan Update
	requests chan pendingRequest
	stops    chan struct{}
	done     chan struct{}

	inFlight sync.Mutex // held conceptually via the flag below
	sending  bool

	threadMu sync.Mutex
	threadID string
}

// pendingRequest pairs the outbound record with the user text so the user
// turn can be mirrored locally once the server issues a thread id.
type pendingRequest struct {
	req     protocol.Request
	message string
}

// NewSession creates a session. Run must be called before Send.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Supervisor == nil {
		panic("client: session requires a supervisor")
	}
	if cfg.Mode == "" {
		cfg.Mode = protocol.ModeSimple
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}

	return &Session{
		sup:      cfg.Supervisor,
		store:    cfg.Store,
		logger:   cfg.Logger.With("component", "session"),
		mode:     cfg.Mode,
		updates:  make(chan Update, cfg.UpdateBuffer),
		requests: make(chan pendingRequest, 1),
		stops:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		threadID: cfg.ThreadID,
	}
}

// Updates delivers session updates. Closed when Run returns.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// ThreadID returns the current thread id; empty until the server issues one
// for a new conversation.
func (s *Session) ThreadID() string {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	return s.threadID
}

func (s *Session) setThreadID(id string) {
	s.threadMu.Lock()
	s.threadID = id
	s.threadMu.Unlock()
}

// SwitchThread changes the active thread. Rejected while a turn is in
// flight; switching mid-stream would attribute events to the wrong thread.
func (s *Session) SwitchThread(id string) error {
	s.inFlight.Lock()
	defer s.inFlight.Unlock()
	if s.sending {
		return ErrTurnInFlight
	}
	s.setThreadID(id)
	return nil
}

// History loads the active thread's persisted turns.
func (s *Session) History(ctx context.Context) ([]*turn.Turn, error) {
	if s.store == nil {
		return nil, nil
	}
	id := s.ThreadID()
	if id == "" {
		return nil, nil
	}
	return s.store.History(ctx, id)
}

// Send submits a message, starting a new turn. Only one turn may be in
// flight; a second Send before the terminal event returns ErrTurnInFlight.
// While the transport is reconnecting the request is buffered and delivered
// on the next open.
func (s *Session) Send(message string) error {
	req := protocol.Request{
		Message:  message,
		ThreadID: s.ThreadID(),
		Mode:     s.mode,
	}
	if err := req.Normalize(); err != nil {
		return err
	}

	s.inFlight.Lock()
	if s.sending {
		s.inFlight.Unlock()
		return ErrTurnInFlight
	}
	s.sending = true
	s.inFlight.Unlock()

	select {
	case <-s.done:
		s.clearInFlight()
		return ErrSessionClosed
	default:
	}

	select {
	case s.requests <- pendingRequest{req: req, message: message}:
		return nil
	case <-s.done:
		s.clearInFlight()
		return ErrSessionClosed
	}
}

// StopGeneration cancels the current turn without touching the connection:
// cancellation is turn-scoped, disconnection is channel-scoped. A no-op when
// no turn is in flight.
func (s *Session) StopGeneration() {
	select {
	case s.stops <- struct{}{}:
	default:
	}
}

func (s *Session) clearInFlight() {
	s.inFlight.Lock()
	s.sending = false
	s.inFlight.Unlock()
}

// Run is the session event loop. It owns the transport through the
// supervisor, reconnects on loss, and exits when ctx is cancelled or the
// supervisor reports a persistent disconnection. The updates channel closes
// on return.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.updates)
	defer close(s.done)

	for {
		conn, err := s.sup.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Persistent disconnection crosses the core/UI boundary.
			s.emit(ctx, Update{Kind: UpdateConnState, State: StateClosed, Err: err})
			return err
		}
		s.emit(ctx, Update{Kind: UpdateConnState, State: StateOpen})

		err = s.pump(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sup.MarkClosed()
		s.emit(ctx, Update{Kind: UpdateConnState, State: StateClosed})
		s.logger.Warn("transport lost, reconnecting", "error", err)
	}
}

// pump processes one connection's lifetime. Returns the transport error that
// ended it, or ctx.Err on cancellation.
func (s *Session) pump(ctx context.Context, conn Conn) error {
	var (
		acc         *turn.Accumulator
		pendingUser string
	)

	// An in-flight, non-finalized turn at the moment of disconnect is
	// abandoned, not resumed; the caller is signalled so it can re-submit
	// or mark the message incomplete.
	defer func() {
		if acc != nil && !acc.Finalized() {
			s.clearInFlight()
			s.emit(ctx, Update{Kind: UpdateTurnAborted, Err: ErrTurnAbandoned})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pr := <-s.requests:
			acc = turn.NewAccumulator(pr.req.ThreadID)
			pendingUser = pr.message
			if err := conn.Send(pr.req); err != nil {
				return err
			}

		case <-s.stops:
			if acc == nil {
				continue
			}
			acc = nil
			s.clearInFlight()
			s.emit(ctx, Update{Kind: UpdateTurnAborted, Err: ErrTurnCancelled})

		case rec, ok := <-conn.Records():
			if !ok {
				return conn.Err()
			}
			s.handleRecord(ctx, rec, &acc, &pendingUser)
		}
	}
}

// handleRecord decodes and folds one inbound record.
func (s *Session) handleRecord(ctx context.Context, rec []byte, acc **turn.Accumulator, pendingUser *string) {
	ev, err := protocol.Decode(rec)
	if err != nil {
		// Transport-level malformed input: drop the record, keep the
		// stream. Application-level error events decode fine and flow
		// through finalization below.
		s.logger.Warn("dropping malformed record", "error", err)
		return
	}

	a := *acc
	if a == nil {
		// Events after a cancel or a retransmitted terminal frame have
		// no turn to land in.
		s.logger.Debug("event outside any turn dropped", "type", ev.Type)
		return
	}

	if ev.Terminal() {
		t := a.Finalize(ev)
		*acc = nil
		s.clearInFlight()
		if t == nil {
			// Empty generation: no observable output, nothing to keep.
			// The server-issued thread id still sticks; the thread exists
			// server-side and the next turn must land in it, not spawn a
			// second one.
			if id := a.ThreadID(); id != "" && id != protocol.ThreadNew {
				s.setThreadID(id)
			}
			s.logger.Debug("empty turn discarded")
			return
		}

		// Adopting the server-issued id must happen before the turn is
		// handed to the store.
		s.setThreadID(t.ThreadID)
		s.persist(ctx, *pendingUser, t)
		*pendingUser = ""
		s.emit(ctx, Update{Kind: UpdateTurn, Turn: t})
		return
	}

	if err := a.Apply(ev); err != nil {
		// Unmatched tool results and friends: local recovery, log and
		// drop, the rest of the turn is unaffected.
		s.logger.Warn("event dropped", "type", ev.Type, "error", err)
		return
	}

	snap := a.Snapshot()
	s.emit(ctx, Update{Kind: UpdateSnapshot, Snapshot: &snap})
}

// persist mirrors the user message and the finalized turn into the local
// store. Failed turns are not persisted; the error already reached the UI.
func (s *Session) persist(ctx context.Context, userMessage string, t *turn.Turn) {
	if s.store == nil || t.Failed() {
		return
	}

	if userMessage != "" {
		userTurn := &turn.Turn{
			ID:         uuid.NewString(),
			ThreadID:   t.ThreadID,
			Role:       turn.RoleUser,
			AnswerText: userMessage,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.AppendTurn(ctx, userTurn); err != nil {
			s.logger.Error("persist user turn", "error", err)
		}
	}
	if err := s.store.AppendTurn(ctx, t); err != nil {
		s.logger.Error("persist assistant turn", "error", err)
	}
}

func (s *Session) emit(ctx context.Context, u Update) {
	select {
	case s.updates <- u:
	case <-ctx.Done():
	}
}
