// Package protocol defines the wire format of the incremental multi-channel
// response protocol: one logical model response travels as an interleaved
// sequence of typed JSON records over a persistent duplex channel.
//
// A turn is streamed as zero or more thinking/answer/tool records followed by
// exactly one terminal record (done or error). The protocol has no sequence
// numbers and no multiplexed-turn identifier; ordering on the channel is the
// only ordering guarantee.
package protocol

import "encoding/json"

// EventType is the discriminant tag of a wire event.
// The set is closed; Decode rejects anything else.
type EventType string

const (
	// EventThinking carries an incremental fragment of reasoning text.
	EventThinking EventType = "thinking"

	// EventAnswer carries an incremental fragment of final-answer text.
	EventAnswer EventType = "answer"

	// EventToolCall announces that a tool invocation has started.
	EventToolCall EventType = "tool_call"

	// EventToolResult reports completion of a tool invocation.
	EventToolResult EventType = "tool_result"

	// EventDone terminates a turn successfully.
	EventDone EventType = "done"

	// EventError terminates a turn with an application-level failure.
	// This is semantically meaningful and must propagate to the caller,
	// unlike a malformed record which is dropped locally.
	EventError EventType = "error"
)

// Event is one typed record on the wire within a turn. Immutable once decoded.
//
// Field usage per variant:
//
//	thinking/answer: Content
//	tool_call:       ToolCallID (optional), ToolName, ToolArgs (optional)
//	tool_result:     ToolCallID (optional), ToolName, Content, IsError
//	done:            ThreadID (optional), ToolCalls (optional)
//	error:           Error
type Event struct {
	Type       EventType       `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ThreadID   string          `json:"thread_id,omitempty"`
	ToolCalls  []string        `json:"tool_calls,omitempty"`
	Error      string          `json:"error,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Thinking builds a thinking fragment event.
func Thinking(content string) Event {
	return Event{Type: EventThinking, Content: content}
}

// Answer builds an answer fragment event.
func Answer(content string) Event {
	return Event{Type: EventAnswer, Content: content}
}

// ToolCall builds a tool invocation start event.
// callID may be empty; the wire permits id-less calls.
func ToolCall(callID, name string, args json.RawMessage) Event {
	return Event{Type: EventToolCall, ToolCallID: callID, ToolName: name, ToolArgs: args}
}

// ToolResult builds a tool invocation completion event.
func ToolResult(callID, name, content string) Event {
	return Event{Type: EventToolResult, ToolCallID: callID, ToolName: name, Content: content}
}

// Done builds the success terminal event.
func Done(threadID string, toolCalls []string) Event {
	return Event{Type: EventDone, ThreadID: threadID, ToolCalls: toolCalls}
}

// Errorf builds the failure terminal event.
func Errorf(message string) Event {
	return Event{Type: EventError, Error: message}
}
