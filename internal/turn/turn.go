// Package turn reconstructs coherent per-turn records from the interleaved
// event stream of the response protocol.
//
// The Accumulator folds events in arrival order into three sub-streams
// (reasoning text, answer text, tool invocations) and finalizes them into an
// immutable Turn exactly once per logical request. Accumulator state is
// instance-scoped and owned by a single session: ordering, not locking, is
// the correctness mechanism, so an Accumulator must only ever be touched from
// one event loop.
package turn

import (
	"encoding/json"
	"time"
)

// Message roles stored on finalized turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Status tracks the lifecycle of a tool invocation within a turn.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Invocation is one tool call and its eventual result, tracked within a turn.
// It is mutable while the turn is in flight and owned exclusively by the
// Accumulator; once the turn finalizes it is part of an immutable Turn.
type Invocation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result string          `json:"result,omitempty"`
	Status Status          `json:"status"`
}

// Turn is one complete response cycle, finalized and immutable.
// Created only by Accumulator.Finalize.
type Turn struct {
	ID            string       `json:"id"`
	ThreadID      string       `json:"thread_id"`
	Role          string       `json:"role"`
	ReasoningText string       `json:"reasoning_text,omitempty"`
	AnswerText    string       `json:"answer_text,omitempty"`
	Invocations   []Invocation `json:"invocations,omitempty"`
	Err           string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Failed reports whether the turn finalized through an error event.
func (t *Turn) Failed() bool {
	return t.Err != ""
}

// ToolNames returns the invocation names in call order.
func (t *Turn) ToolNames() []string {
	if len(t.Invocations) == 0 {
		return nil
	}
	names := make([]string, len(t.Invocations))
	for i, inv := range t.Invocations {
		names[i] = inv.Name
	}
	return names
}

// Snapshot is a read-only view of an in-flight turn, safe to hand to a
// renderer after every event.
type Snapshot struct {
	ThreadID      string
	ReasoningText string
	AnswerText    string
	Invocations   []Invocation
}
