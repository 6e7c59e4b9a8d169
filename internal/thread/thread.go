// Package thread persists finalized turns and the conversation threads that
// group them.
//
// The event-processing core treats the store as an external collaborator:
// it only ever appends finalized turns and reads history on thread switch.
// Two implementations exist: Postgres for production and Memory for tests
// and the local client.
package thread

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/byteagent/byte/internal/turn"
)

var (
	// ErrNotFound indicates the requested thread does not exist.
	ErrNotFound = errors.New("thread not found")

	// ErrNotOwner indicates the thread belongs to a different user.
	ErrNotOwner = errors.New("thread not owned by user")
)

// Thread is one conversation: an ordered sequence of turns under a title.
type Thread struct {
	ID        string
	UserID    int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence contract consumed by the protocol core.
//
// Implementations must be safe for concurrent use; the core itself only
// issues sequential calls per session.
type Store interface {
	CreateThread(ctx context.Context, userID int64, title string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, userID int64) ([]*Thread, error)
	DeleteThread(ctx context.Context, id string) error
	TouchThread(ctx context.Context, id string) error

	// AppendTurn persists one finalized turn at the end of its thread.
	AppendTurn(ctx context.Context, t *turn.Turn) error

	// History returns the thread's turns in append order.
	History(ctx context.Context, threadID string) ([]*turn.Turn, error)
}

// TitleMaxLength is the maximum length of an auto-generated thread title.
const TitleMaxLength = 50

// TitleFromMessage derives a thread title from the first user message.
// Truncates at a word boundary where possible; counts runes, not bytes.
func TitleFromMessage(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "New Chat"
	}
	runes := []rune(message)
	if len(runes) <= TitleMaxLength {
		return message
	}

	truncated := string(runes[:TitleMaxLength])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > TitleMaxLength/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
