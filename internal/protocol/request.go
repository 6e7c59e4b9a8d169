package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ThreadNew is the sentinel thread id a client sends to start a fresh
// conversation. The server answers with the issued id in the done event.
const ThreadNew = "new"

// Response modes.
const (
	ModeSimple = "simple"
	ModeTurbo  = "turbo"
)

// ErrEmptyMessage indicates an outbound request without message text.
var ErrEmptyMessage = errors.New("empty message")

// Request is the outbound record that starts a turn.
type Request struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
	Mode     string `json:"mode"`

	// Attachment is an optional base64 payload (e.g. an uploaded image)
	// forwarded opaquely to the responder.
	Attachment     string `json:"attachment,omitempty"`
	AttachmentMime string `json:"attachment_mime,omitempty"`
}

// Normalize fills defaults and validates the request.
// An empty thread id becomes ThreadNew, an empty mode becomes ModeSimple.
func (r *Request) Normalize() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if r.ThreadID == "" {
		r.ThreadID = ThreadNew
	}
	if r.Mode == "" {
		r.Mode = ModeSimple
	}
	if r.Mode != ModeSimple && r.Mode != ModeTurbo {
		return fmt.Errorf("invalid mode %q", r.Mode)
	}
	return nil
}
