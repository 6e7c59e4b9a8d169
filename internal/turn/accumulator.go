package turn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/byteagent/byte/internal/protocol"
)

var (
	// ErrUnmatchedResult indicates a tool_result with no pending invocation
	// to attach to. The event is dropped; creating a synthetic invocation
	// would corrupt call-order guarantees for rendering.
	ErrUnmatchedResult = errors.New("tool result matches no pending invocation")

	// ErrFinalized indicates an attempt to mutate an already-finalized
	// accumulator.
	ErrFinalized = errors.New("accumulator already finalized")

	// ErrTerminalEvent indicates a terminal event passed to Apply.
	// Terminal events go through Finalize.
	ErrTerminalEvent = errors.New("terminal event must be finalized, not applied")
)

// Accumulator folds an ordered event sequence into progressively-updated
// sub-streams. Not safe for concurrent use; see the package comment.
type Accumulator struct {
	threadID    string
	reasoning   strings.Builder
	answer      strings.Builder
	invocations []Invocation
	finalized   bool
}

// NewAccumulator creates the mutable buffer for one in-flight turn.
// threadID may be protocol.ThreadNew; the server-issued id is adopted from
// the done event at finalization.
func NewAccumulator(threadID string) *Accumulator {
	return &Accumulator{threadID: threadID}
}

// Apply folds one non-terminal event into the accumulator, in arrival order.
// Unmatched tool results return ErrUnmatchedResult and change nothing; the
// caller logs the diagnostic and the stream continues.
func (a *Accumulator) Apply(ev protocol.Event) error {
	if a.finalized {
		return ErrFinalized
	}
	if ev.Terminal() {
		return ErrTerminalEvent
	}

	switch ev.Type {
	case protocol.EventThinking:
		a.reasoning.WriteString(ev.Content)

	case protocol.EventAnswer:
		a.answer.WriteString(ev.Content)

	case protocol.EventToolCall:
		id := ev.ToolCallID
		if id == "" {
			// The wire permits id-less calls; synthesize one so the
			// finalized record stays well-keyed.
			id = uuid.NewString()
		}
		a.invocations = append(a.invocations, Invocation{
			ID:     id,
			Name:   ev.ToolName,
			Args:   ev.ToolArgs,
			Status: StatusPending,
		})

	case protocol.EventToolResult:
		inv := a.match(ev)
		if inv == nil {
			return fmt.Errorf("%w: id=%q name=%q", ErrUnmatchedResult, ev.ToolCallID, ev.ToolName)
		}
		inv.Result = ev.Content
		if ev.IsError {
			inv.Status = StatusFailed
		} else {
			inv.Status = StatusCompleted
		}
	}

	return nil
}

// match correlates a tool_result to its originating invocation: id-first,
// then the earliest invocation with that name that is still pending. The
// pending filter keeps concurrent calls to the same tool resolving to
// distinct entries in call order instead of all collapsing onto the first
// invocation that carries the name.
func (a *Accumulator) match(ev protocol.Event) *Invocation {
	if ev.ToolCallID != "" {
		for i := range a.invocations {
			if a.invocations[i].ID == ev.ToolCallID {
				return &a.invocations[i]
			}
		}
		// Fall through to name matching: ids may be server-generated
		// after the fact and unknown to the call event we recorded.
	}
	if ev.ToolName == "" {
		return nil
	}
	for i := range a.invocations {
		if a.invocations[i].Name == ev.ToolName && a.invocations[i].Status == StatusPending {
			return &a.invocations[i]
		}
	}
	return nil
}

// Empty reports whether the turn has no observable output at all.
func (a *Accumulator) Empty() bool {
	return a.reasoning.Len() == 0 && a.answer.Len() == 0 && len(a.invocations) == 0
}

// ThreadID returns the thread the turn currently belongs to.
func (a *Accumulator) ThreadID() string {
	return a.threadID
}

// Snapshot returns a read-only view for incremental rendering.
// The invocation slice is copied so renderers never observe later mutation.
func (a *Accumulator) Snapshot() Snapshot {
	invs := make([]Invocation, len(a.invocations))
	copy(invs, a.invocations)
	return Snapshot{
		ThreadID:      a.threadID,
		ReasoningText: a.reasoning.String(),
		AnswerText:    a.answer.String(),
		Invocations:   invs,
	}
}

// Finalize materializes the accumulated state into an immutable Turn on a
// terminal event. It is idempotent: a retransmitted terminal frame finds the
// finalized flag set and returns nil.
//
// On done: a server-issued thread id on the done event is adopted first,
// which is the only place thread identity is established for a new
// conversation; the id sticks even when the turn itself is discarded, since
// the server already created the thread. A turn with no reasoning, no answer
// and no invocations represents no observable model output (a filtered or
// empty generation) and is discarded, returning nil. Invocations still
// pending are marked failed; the server finished without reporting their
// results.
//
// On error: partial reasoning/answer/tool state is discarded and a synthetic
// failed turn carrying only the error message is produced, so "produced
// partial content then failed" stays distinguishable from "succeeded with
// some empty sections".
func (a *Accumulator) Finalize(ev protocol.Event) *Turn {
	if a.finalized || !ev.Terminal() {
		return nil
	}
	a.finalized = true

	if ev.Type == protocol.EventError {
		return &Turn{
			ID:        uuid.NewString(),
			ThreadID:  a.threadID,
			Role:      RoleAssistant,
			Err:       ev.Error,
			CreatedAt: time.Now().UTC(),
		}
	}

	if ev.ThreadID != "" {
		a.threadID = ev.ThreadID
	}

	if a.Empty() {
		return nil
	}

	invs := a.invocations
	for i := range invs {
		if invs[i].Status == StatusPending {
			invs[i].Status = StatusFailed
		}
	}

	return &Turn{
		ID:            uuid.NewString(),
		ThreadID:      a.threadID,
		Role:          RoleAssistant,
		ReasoningText: a.reasoning.String(),
		AnswerText:    a.answer.String(),
		Invocations:   invs,
		CreatedAt:     time.Now().UTC(),
	}
}

// Finalized reports whether a terminal event was already observed.
func (a *Accumulator) Finalized() bool {
	return a.finalized
}
