package history

import (
	"context"
	"sync"
)

// DefaultMaxEntries bounds the in-memory ring when no limit is configured.
const DefaultMaxEntries = 256

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore keeps the most recent detections in a bounded in-memory ring.
// The oldest entries are evicted once the bound is reached.
type MemStore struct {
	mu      sync.Mutex
	max     int
	entries []Detection
}

// NewMemStore creates a MemStore holding at most max detections.
// A max of zero or less falls back to [DefaultMaxEntries].
func NewMemStore(max int) *MemStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &MemStore{max: max}
}

// Append implements [Store].
func (s *MemStore) Append(_ context.Context, d Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, d)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	return nil
}

// Recent implements [Store].
func (s *MemStore) Recent(_ context.Context, limit int) ([]Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Detection, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// SetLimit adjusts the ring bound, evicting the oldest entries if the new
// bound is smaller. Used for config hot-reload.
func (s *MemStore) SetLimit(max int) {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = max
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
}

// Close implements [Store]. It is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
