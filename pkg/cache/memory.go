package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process local Store. Expired entries stay in the map until the
// next Store for the same key overwrites them.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[Key]Entry), now: now}
}

func (m *Memory) Lookup(_ context.Context, key Key) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || !entry.Fresh(m.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (m *Memory) Store(_ context.Context, key Key, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry
	return nil
}

// Len counts entries including expired ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store = (*Memory)(nil)
