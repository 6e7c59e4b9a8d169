package thread

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/byteagent/byte/internal/turn"
)

// Memory is an in-memory Store. Used by tests and by the local chat client
// as its turn mirror; data does not survive the process.
type Memory struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	turns   map[string][]*turn.Turn
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads: make(map[string]*Thread),
		turns:   make(map[string][]*turn.Turn),
	}
}

var _ Store = (*Memory)(nil)

// CreateThread creates a thread with a generated id.
func (m *Memory) CreateThread(_ context.Context, userID int64, title string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	th := &Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.threads[th.ID] = th
	return copyThread(th), nil
}

// GetThread returns the thread or ErrNotFound.
func (m *Memory) GetThread(_ context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	th, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyThread(th), nil
}

// ListThreads returns the user's threads, most recently updated first.
func (m *Memory) ListThreads(_ context.Context, userID int64) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Thread
	for _, th := range m.threads {
		if th.UserID == userID {
			out = append(out, copyThread(th))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// DeleteThread removes the thread and its turns.
func (m *Memory) DeleteThread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[id]; !ok {
		return ErrNotFound
	}
	delete(m.threads, id)
	delete(m.turns, id)
	return nil
}

// TouchThread bumps the thread's updated-at timestamp.
func (m *Memory) TouchThread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	th, ok := m.threads[id]
	if !ok {
		return ErrNotFound
	}
	th.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendTurn stores the finalized turn at the end of its thread.
// Threads unknown to the store are created implicitly so a client engine can
// mirror server-issued thread ids without a separate round trip.
func (m *Memory) AppendTurn(_ context.Context, t *turn.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if _, ok := m.threads[t.ThreadID]; !ok {
		m.threads[t.ThreadID] = &Thread{
			ID:        t.ThreadID,
			Title:     "New Chat",
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		m.threads[t.ThreadID].UpdatedAt = now
	}
	m.turns[t.ThreadID] = append(m.turns[t.ThreadID], t)
	return nil
}

// History returns the thread's turns in append order.
func (m *Memory) History(_ context.Context, threadID string) ([]*turn.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[threadID]
	out := make([]*turn.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func copyThread(th *Thread) *Thread {
	c := *th
	return &c
}
