package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/byteagent/byte/internal/log"
	"github.com/byteagent/byte/internal/protocol"
	"github.com/byteagent/byte/internal/thread"
	"github.com/byteagent/byte/internal/turn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is a scriptable Conn for driving the session loop.
type fakeConn struct {
	records chan []byte
	sent    chan protocol.Request

	mu     sync.Mutex
	err    error
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		records: make(chan []byte, 64),
		sent:    make(chan protocol.Request, 8),
	}
}

func (c *fakeConn) Send(req protocol.Request) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("send on closed conn")
	}
	c.sent <- req
	return nil
}

func (c *fakeConn) Records() <-chan []byte { return c.records }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// emit pushes a wire event to the session.
func (c *fakeConn) emit(t *testing.T, ev protocol.Event) {
	t.Helper()
	data, err := protocol.Encode(ev)
	require.NoError(t, err)
	c.records <- data
}

// fail simulates transport loss.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.records)
}

// fakeDialer hands out a scripted sequence of connections and errors.
type fakeDialer struct {
	mu    sync.Mutex
	conns []Conn
	errs  []error
	dials int
}

func (d *fakeDialer) Dial(_ context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more scripted connections")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// testSession wires a session around the dialer and runs its loop.
func testSession(t *testing.T, dialer Dialer, store ThreadStore) (*Session, context.CancelFunc, <-chan error) {
	t.Helper()

	sup := NewSupervisor(SupervisorConfig{
		Dialer:      dialer,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      log.NewNop(),
	})
	s := NewSession(SessionConfig{
		Supervisor: sup,
		Store:      store,
		Logger:     log.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx); close(runErr) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-runErr:
		case <-time.After(2 * time.Second):
			t.Error("session loop did not exit")
		}
	})

	return s, cancel, runErr
}

// nextUpdate waits for the next update of the wanted kind, skipping others.
func nextUpdate(t *testing.T, s *Session, kind UpdateKind) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-s.Updates():
			if !ok {
				t.Fatal("updates channel closed while waiting")
			}
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update kind %d", kind)
		}
	}
}

func TestSession_CompleteTurn(t *testing.T) {
	conn := newFakeConn()
	store := thread.NewMemory()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, store)

	require.NoError(t, s.Send("hello there"))

	req := <-conn.sent
	assert.Equal(t, protocol.ThreadNew, req.ThreadID)
	assert.Equal(t, protocol.ModeSimple, req.Mode)

	conn.emit(t, protocol.Thinking("A"))
	conn.emit(t, protocol.Thinking("B"))
	conn.emit(t, protocol.Answer("C"))
	conn.emit(t, protocol.Done("issued-1", nil))

	u := nextUpdate(t, s, UpdateTurn)
	require.NotNil(t, u.Turn)
	assert.Equal(t, "AB", u.Turn.ReasoningText)
	assert.Equal(t, "C", u.Turn.AnswerText)
	assert.Empty(t, u.Turn.Invocations)
	assert.Equal(t, "issued-1", u.Turn.ThreadID)

	// Server-issued thread identity is adopted before persistence.
	assert.Equal(t, "issued-1", s.ThreadID())

	history, err := store.History(context.Background(), "issued-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, turn.RoleUser, history[0].Role)
	assert.Equal(t, "hello there", history[0].AnswerText)
	assert.Equal(t, turn.RoleAssistant, history[1].Role)
}

func TestSession_SnapshotsStreamProgressively(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("hi"))
	<-conn.sent

	conn.emit(t, protocol.Answer("he"))
	first := nextUpdate(t, s, UpdateSnapshot)
	assert.Equal(t, "he", first.Snapshot.AnswerText)

	conn.emit(t, protocol.Answer("llo"))
	second := nextUpdate(t, s, UpdateSnapshot)
	assert.Equal(t, "hello", second.Snapshot.AnswerText)
}

func TestSession_SecondSendWhileInFlightRejected(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("first"))
	assert.ErrorIs(t, s.Send("second"), ErrTurnInFlight)

	<-conn.sent
	conn.emit(t, protocol.Answer("x"))
	conn.emit(t, protocol.Done("t-1", nil))
	nextUpdate(t, s, UpdateTurn)

	// Terminal state frees the slot.
	require.NoError(t, s.Send("third"))
}

func TestSession_DoubleTerminalIsNoOp(t *testing.T) {
	conn := newFakeConn()
	store := thread.NewMemory()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, store)

	require.NoError(t, s.Send("hi"))
	<-conn.sent

	conn.emit(t, protocol.Answer("x"))
	conn.emit(t, protocol.Done("t-1", nil))
	conn.emit(t, protocol.Done("t-1", nil)) // retransmitted terminal frame

	nextUpdate(t, s, UpdateTurn)

	// Force a full round trip so the duplicate has been processed.
	require.NoError(t, s.Send("again"))
	<-conn.sent
	conn.emit(t, protocol.Answer("y"))
	conn.emit(t, protocol.Done("t-1", nil))
	nextUpdate(t, s, UpdateTurn)

	history, err := store.History(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Len(t, history, 4) // two user + two assistant, no duplicates
}

func TestSession_EmptyTurnProducesNothing(t *testing.T) {
	conn := newFakeConn()
	store := thread.NewMemory()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, store)

	require.NoError(t, s.Send("hi"))
	<-conn.sent
	conn.emit(t, protocol.Done("t-1", nil))

	// The slot frees without any UpdateTurn appearing.
	require.Eventually(t, func() bool {
		return s.Send("follow-up") == nil
	}, 2*time.Second, 5*time.Millisecond)

	history, err := store.History(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSession_EmptyTurnStillAdoptsThreadID(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("hi"))
	req := <-conn.sent
	assert.Equal(t, protocol.ThreadNew, req.ThreadID)

	conn.emit(t, protocol.Done("issued-1", nil))

	// The empty turn is discarded but the server already created the
	// thread; the follow-up must land in it, not start another one.
	require.Eventually(t, func() bool {
		return s.Send("follow-up") == nil
	}, 2*time.Second, 5*time.Millisecond)

	req = <-conn.sent
	assert.Equal(t, "issued-1", req.ThreadID)
	assert.Equal(t, "issued-1", s.ThreadID())
}

func TestSession_ApplicationErrorSurfacesVerbatim(t *testing.T) {
	conn := newFakeConn()
	store := thread.NewMemory()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, store)

	require.NoError(t, s.Send("hi"))
	<-conn.sent

	conn.emit(t, protocol.Thinking("partial"))
	conn.emit(t, protocol.Errorf("model overloaded"))

	u := nextUpdate(t, s, UpdateTurn)
	require.NotNil(t, u.Turn)
	assert.True(t, u.Turn.Failed())
	assert.Equal(t, "model overloaded", u.Turn.Err)
	assert.Empty(t, u.Turn.ReasoningText)

	// Failed turns are not persisted.
	history, err := store.History(context.Background(), protocol.ThreadNew)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSession_MalformedRecordDoesNotKillStream(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("hi"))
	<-conn.sent

	conn.records <- []byte(`{"type":"bogus"`)
	conn.emit(t, protocol.Answer("still here"))
	conn.emit(t, protocol.Done("t-1", nil))

	u := nextUpdate(t, s, UpdateTurn)
	assert.Equal(t, "still here", u.Turn.AnswerText)
}

func TestSession_DisconnectAbandonsTurnThenRecovers(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{first, second}}, nil)

	require.NoError(t, s.Send("hi"))
	<-first.sent
	first.emit(t, protocol.Thinking("partial"))
	nextUpdate(t, s, UpdateSnapshot)

	// Transport drops mid-turn.
	first.fail(errors.New("connection reset"))

	aborted := nextUpdate(t, s, UpdateTurnAborted)
	assert.ErrorIs(t, aborted.Err, ErrTurnAbandoned)

	// Supervisor reopens; a fresh send starts an independent turn.
	reopened := nextUpdate(t, s, UpdateConnState)
	for reopened.State != StateOpen {
		reopened = nextUpdate(t, s, UpdateConnState)
	}

	require.NoError(t, s.Send("retry"))
	<-second.sent
	second.emit(t, protocol.Answer("fresh"))
	second.emit(t, protocol.Done("t-2", nil))

	u := nextUpdate(t, s, UpdateTurn)
	assert.Equal(t, "fresh", u.Turn.AnswerText)
	assert.Empty(t, u.Turn.ReasoningText) // nothing leaked from the abandoned turn
}

func TestSession_StopGenerationIsTurnScoped(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("hi"))
	<-conn.sent
	conn.emit(t, protocol.Answer("streaming"))
	nextUpdate(t, s, UpdateSnapshot)

	s.StopGeneration()

	u := nextUpdate(t, s, UpdateTurnAborted)
	assert.ErrorIs(t, u.Err, ErrTurnCancelled)

	// The channel stayed up: late events are ignored and a new turn works
	// on the same connection.
	conn.emit(t, protocol.Answer("late"))
	require.Eventually(t, func() bool {
		return s.Send("next") == nil
	}, 2*time.Second, 5*time.Millisecond)
	<-conn.sent
	conn.emit(t, protocol.Answer("ok"))
	conn.emit(t, protocol.Done("t-1", nil))

	u = nextUpdate(t, s, UpdateTurn)
	assert.Equal(t, "ok", u.Turn.AnswerText)
}

func TestSession_PersistentDisconnectSurfaces(t *testing.T) {
	dialErr := errors.New("refused")
	dialer := &fakeDialer{errs: []error{dialErr, dialErr, dialErr}}

	sup := NewSupervisor(SupervisorConfig{
		Dialer:      dialer,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      log.NewNop(),
	})
	s := NewSession(SessionConfig{Supervisor: sup, Logger: log.NewNop()})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(context.Background()) }()

	u := nextUpdate(t, s, UpdateConnState)
	assert.Equal(t, StateClosed, u.State)
	assert.ErrorIs(t, u.Err, ErrGaveUp)

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrGaveUp)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit after giving up")
	}
	assert.Equal(t, 3, dialer.dialCount())
}

func TestSession_SendAfterCloseRejected(t *testing.T) {
	conn := newFakeConn()
	s, cancel, runErr := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not exit")
	}

	assert.ErrorIs(t, s.Send("too late"), ErrSessionClosed)
}

func TestSession_SwitchThreadRejectedMidTurn(t *testing.T) {
	conn := newFakeConn()
	s, _, _ := testSession(t, &fakeDialer{conns: []Conn{conn}}, nil)

	require.NoError(t, s.Send("hi"))
	assert.ErrorIs(t, s.SwitchThread("other"), ErrTurnInFlight)

	<-conn.sent
	conn.emit(t, protocol.Done("t-1", nil))
	require.Eventually(t, func() bool {
		return s.SwitchThread("other") == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "other", s.ThreadID())
}
