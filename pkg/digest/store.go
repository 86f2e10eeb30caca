package digest

import (
	"context"
	"sync"
)

// Store keeps digest slots. Mutate must run fn as a single atomic critical
// section for the key: concurrent calls for the same key never interleave and
// never lose an update. fn receives an empty slot for unknown keys; when fn
// leaves the slot empty the key is removed.
type Store interface {
	Mutate(ctx context.Context, key Key, fn func(slot *Slot) error) error
	Keys(ctx context.Context) ([]Key, error)
	Close() error
}

// MemoryStore is an in-process Store guarded by one mutex per key.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[Key]*memorySlot
}

type memorySlot struct {
	mu   sync.Mutex
	slot *Slot
	refs int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[Key]*memorySlot),
	}
}

func (m *MemoryStore) acquire(key Key) *memorySlot {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.slots[key]
	if !ok {
		entry = &memorySlot{slot: &Slot{}}
		m.slots[key] = entry
	}

	entry.refs++

	return entry
}

func (m *MemoryStore) release(key Key, entry *memorySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.refs--
	if entry.refs == 0 && entry.slot.IsEmpty() {
		delete(m.slots, key)
	}
}

// Mutate implements Store.
func (m *MemoryStore) Mutate(ctx context.Context, key Key, fn func(slot *Slot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := m.acquire(key)
	defer m.release(key, entry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := cloneSlot(entry.slot)
	if err := fn(working); err != nil {
		return err
	}

	entry.slot = working

	return nil
}

// Keys implements Store.
func (m *MemoryStore) Keys(_ context.Context) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]Key, 0, len(m.slots))
	for key := range m.slots {
		keys = append(keys, key)
	}

	return keys, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// cloneSlot copies a slot so a failing mutation leaves the stored one intact.
func cloneSlot(slot *Slot) *Slot {
	out := &Slot{}

	if slot.Open != nil {
		out.Open = slot.Open.Snapshot()
	}

	if len(slot.Closed) > 0 {
		out.Closed = make([]*Bucket, 0, len(slot.Closed))
		for _, bucket := range slot.Closed {
			out.Closed = append(out.Closed, bucket.Snapshot())
		}
	}

	return out
}
