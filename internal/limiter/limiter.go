package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter bounds how often the agent replies to a single node. Allow is
// consulted before reasoning; Record is called after a reply is sent.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
	Record(ctx context.Context, identity string) error
}

// Memory is a per-identity sliding-window limiter held in process memory.
type Memory struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	replies map[string][]time.Time

	now func() time.Time
}

// NewMemory creates an in-memory limiter allowing limit replies per window
// per identity.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		replies: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether another reply to the identity fits in the window.
func (m *Memory) Allow(ctx context.Context, identity string) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prune(identity)) < m.limit, nil
}

// Record counts one sent reply against the identity.
func (m *Memory) Record(ctx context.Context, identity string) error {
	if m.limit <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[identity] = append(m.prune(identity), m.now())
	return nil
}

// prune drops entries older than the window. Caller holds the lock.
func (m *Memory) prune(identity string) []time.Time {
	cutoff := m.now().Add(-m.window)
	kept := m.replies[identity][:0]
	for _, t := range m.replies[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.replies, identity)
		return nil
	}
	m.replies[identity] = kept
	return kept
}
