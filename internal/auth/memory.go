package auth

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and ephemeral deployments.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*User
	byMail map[string]*User
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[int64]*User),
		byMail: make(map[string]*User),
	}
}

func (m *Memory) CreateUser(_ context.Context, email, username, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byMail[email]; ok {
		return nil, ErrEmailTaken
	}
	m.nextID++
	u := &User{
		ID:           m.nextID,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.byID[u.ID] = u
	m.byMail[u.Email] = u
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byMail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByID(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}
