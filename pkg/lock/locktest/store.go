// Package locktest provides an in-process lock.Store for tests.
package locktest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store keeps lock keys in memory with expiry.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	Acquisitions int
}

type entry struct {
	value     string
	expiresAt time.Time
}

func NewStore() *Store {
	return &Store{entries: make(map[string]entry), now: time.Now}
}

func (s *Store) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[key]; ok && s.now().Before(current.expiresAt) {
		return false, nil
	}
	s.entries[key] = entry{value: fmt.Sprint(value), expiresAt: s.now().Add(ttl)}
	s.Acquisitions++
	return true, nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[key]
	if !ok || current.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *Store) LockKey(name string) string {
	return "lock:" + name
}

// Held reports whether key is currently locked.
func (s *Store) Held(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[s.LockKey(name)]
	return ok && s.now().Before(current.expiresAt)
}

// TTL returns the remaining lifetime of a held lock, or zero.
func (s *Store) TTL(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.entries[s.LockKey(name)]
	if !ok {
		return 0
	}
	if remaining := current.expiresAt.Sub(s.now()); remaining > 0 {
		return remaining
	}
	return 0
}
