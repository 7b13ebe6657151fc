// Package revocation stores ids of revoked access tokens until those tokens
// would have expired on their own.
package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryDenylist keeps entries in process memory. Suitable for a single
// instance; entries are lost on restart.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryDenylist) Add(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[jti] = m.now().Add(ttl)
	return nil
}

func (m *MemoryDenylist) Contains(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.entries[jti]
	if !ok {
		return false, nil
	}
	if m.now().After(until) {
		delete(m.entries, jti)
		return false, nil
	}
	return true, nil
}

// Purge drops entries whose TTL has elapsed and returns how many were removed.
func (m *MemoryDenylist) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for jti, until := range m.entries {
		if now.After(until) {
			delete(m.entries, jti)
			n++
		}
	}
	return n
}
