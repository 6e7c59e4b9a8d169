package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is the sentinel wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed wire record")

// maxRawPreview bounds how much of a rejected record is kept for logging.
const maxRawPreview = 256

// DecodeError describes a record that failed structural validation.
//
// A DecodeError is a transport-level fault: the caller logs it and drops the
// record without terminating the stream. It is distinct from an EventError
// record, which is a well-formed, application-level failure report.
type DecodeError struct {
	Raw    string // prefix of the offending record, for diagnostics
	Reason string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("decode record: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("decode record: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return ErrMalformed
}

// Is reports ErrMalformed for every DecodeError so callers can match the
// whole class with errors.Is.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

func preview(raw []byte) string {
	if len(raw) > maxRawPreview {
		return string(raw[:maxRawPreview]) + "..."
	}
	return string(raw)
}

// Decode parses one raw inbound record and validates it against the closed
// event set. On failure it returns a *DecodeError; the record must then be
// dropped, not the stream.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, &DecodeError{Raw: preview(raw), Reason: "invalid JSON", cause: err}
	}

	switch ev.Type {
	case EventThinking, EventAnswer:
		// Empty fragments are legal: some providers emit keep-alive chunks.

	case EventToolCall:
		if ev.ToolName == "" {
			return Event{}, &DecodeError{Raw: preview(raw), Reason: "tool_call missing tool_name"}
		}

	case EventToolResult:
		if ev.ToolName == "" && ev.ToolCallID == "" {
			return Event{}, &DecodeError{Raw: preview(raw), Reason: "tool_result missing both tool_call_id and tool_name"}
		}

	case EventDone:
		// All fields optional.

	case EventError:
		if ev.Error == "" {
			return Event{}, &DecodeError{Raw: preview(raw), Reason: "error event missing error message"}
		}

	case "":
		return Event{}, &DecodeError{Raw: preview(raw), Reason: "missing type tag"}

	default:
		return Event{}, &DecodeError{Raw: preview(raw), Reason: fmt.Sprintf("unknown event type %q", ev.Type)}
	}

	return ev, nil
}

// Encode serializes an event as one wire record.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}
