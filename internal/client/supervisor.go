package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the connection state owned by the Supervisor.
// Transitions drive whether outbound sends are buffered, rejected, or
// delivered immediately.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrGaveUp indicates the Supervisor exhausted its reconnection attempts.
// It surfaces as a persistent-disconnection signal rather than silent
// forever-retrying.
var ErrGaveUp = errors.New("reconnection attempts exhausted")

// Default backoff tuning.
const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxAttempts = 6
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Dialer Dialer // required

	// BackoffBase is the first retry delay; each consecutive failure
	// doubles it, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// MaxAttempts bounds consecutive dial failures before Connect gives
	// up with ErrGaveUp.
	MaxAttempts int

	Logger *slog.Logger
}

// Supervisor owns the connect/retry lifecycle of exactly one transport
// handle per session. It dials with exponential backoff, resets the attempt
// counter on every successful open, and gives up after a bounded number of
// consecutive failures.
type Supervisor struct {
	dialer      Dialer
	base        time.Duration
	cap         time.Duration
	maxAttempts int
	logger      *slog.Logger
	state       atomic.Int32
}

// NewSupervisor creates a Supervisor with defaults filled in.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Dialer == nil {
		panic("client: supervisor requires a dialer")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Supervisor{
		dialer:      cfg.Dialer,
		base:        cfg.BackoffBase,
		cap:         cfg.BackoffCap,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger.With("component", "supervisor"),
	}
	s.state.Store(int32(StateClosed))
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// MarkClosed records an unexpected transport loss.
func (s *Supervisor) MarkClosed() {
	s.setState(StateClosed)
}

// Connect dials until a connection opens, sleeping between consecutive
// failures. The attempt counter starts at zero on every call, which realizes
// the reset-on-successful-open rule. The backoff wait is cancellable through
// ctx. After MaxAttempts consecutive failures Connect returns ErrGaveUp.
func (s *Supervisor) Connect(ctx context.Context) (Conn, error) {
	s.setState(StateConnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.base
	bo.MaxInterval = s.cap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // attempts are bounded by count, not wall time
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		conn, err := s.dialer.Dial(ctx)
		if err == nil {
			s.setState(StateOpen)
			if attempt > 0 {
				s.logger.Info("reconnected", "attempts", attempt+1)
			}
			return conn, nil
		}
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil, ctx.Err()
		}
		lastErr = err

		wait := bo.NextBackOff()
		s.logger.Warn("dial failed",
			"attempt", attempt+1,
			"max_attempts", s.maxAttempts,
			"retry_in", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateClosed)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.setState(StateClosed)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, s.maxAttempts, lastErr)
}
