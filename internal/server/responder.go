package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/byteagent/byte/internal/protocol"
	"github.com/byteagent/byte/internal/turn"
)

// Prompt is one user message handed to the Responder, with the thread's
// persisted history for context.
type Prompt struct {
	UserID  int64
	Message string
	Mode    string
	History []*turn.Turn
}

// Responder generates the assistant side of a turn. Implementations stream
// non-terminal events through emit in the order they should reach the client;
// the chat handler owns the terminal frame. A returned error becomes an error
// event on the wire.
type Responder interface {
	Respond(ctx context.Context, p Prompt, emit func(protocol.Event) error) error
}

// SimResponder is a canned Responder used when no model backend is wired.
// It streams a word-by-word answer with a typing delay, and exercises the
// tool-call path when the message looks like a URL check.
type SimResponder struct {
	// Delay between answer fragments. Zero means no delay; tests use that.
	Delay time.Duration
}

var _ Responder = (*SimResponder)(nil)

func (s *SimResponder) Respond(ctx context.Context, p Prompt, emit func(protocol.Event) error) error {
	if err := emit(protocol.Thinking("Reading the message. ")); err != nil {
		return err
	}
	if err := emit(protocol.Thinking("Composing a reply.")); err != nil {
		return err
	}

	if target, ok := extractURL(p.Message); ok {
		id := uuid.NewString()
		args := fmt.Sprintf(`{"url":%q}`, target)
		if err := emit(protocol.ToolCall(id, "scan_url", []byte(args))); err != nil {
			return err
		}
		if err := emit(protocol.ToolResult(id, "scan_url", "clean")); err != nil {
			return err
		}
	}

	response := fmt.Sprintf("I received your message: %q. This is a simulated response.", p.Message)
	for i, word := range strings.Fields(response) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fragment := word
		if i > 0 {
			fragment = " " + word
		}
		if err := emit(protocol.Answer(fragment)); err != nil {
			return err
		}
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
	}
	return nil
}

func extractURL(message string) (string, bool) {
	for _, f := range strings.Fields(message) {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return f, true
		}
	}
	return "", false
}
