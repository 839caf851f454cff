package auth

import (
	"context"
	"sync"
)

// MemoryStore keeps users in process memory, used when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]byte
	cost  int
}

func NewMemoryStore(cost int) *MemoryStore {
	return &MemoryStore{
		users: make(map[string][]byte),
		cost:  normalizeCost(cost),
	}
}

func (m *MemoryStore) Verify(ctx context.Context, username, password string, login bool) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}

	if login {
		m.mu.RLock()
		hash, ok := m.users[username]
		m.mu.RUnlock()
		return ok && matchPassword(hash, password), nil
	}

	m.mu.RLock()
	_, taken := m.users[username]
	m.mu.RUnlock()
	if taken {
		return false, ErrUserExists
	}

	// hashing is slow, keep it out of the lock and check again after
	hash, err := hashPassword(password, m.cost)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.users[username]; taken {
		return false, ErrUserExists
	}
	m.users[username] = hash
	return true, nil
}

// Len is the number of registered users.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
