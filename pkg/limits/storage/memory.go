package storage

import (
	"context"
	"sync"
	"time"

	"mercator-hq/voicequota/pkg/limits"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// Each user has its own entry mutex. The map lock is only held to find or
// create an entry, never while an update runs, so updates for different
// users do not contend.
type MemoryBackend struct {
	// entries maps user id to that user's record.
	entries map[string]*memoryEntry

	// mu protects the entries map only.
	mu sync.RWMutex

	closed bool
}

type memoryEntry struct {
	mu  sync.Mutex
	rec limits.UsageRecord

	// exists is false until the first persisted update.
	exists bool

	// removed is set when the entry is dropped from the map while an
	// updater may still hold a pointer to it.
	removed bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memoryEntry),
	}
}

// Name returns "memory".
func (m *MemoryBackend) Name() string {
	return BackendMemory
}

// Load retrieves the usage record for a user.
func (m *MemoryBackend) Load(ctx context.Context, userID string) (*limits.UsageRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.exists || entry.removed {
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

// Update applies fn to the user's record while holding the user's mutex.
func (m *MemoryBackend) Update(ctx context.Context, userID string, fn UpdateFunc) (*limits.UsageRecord, error) {
	if err := validateUpdate(userID, fn); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := m.getOrCreate(userID)
		if err != nil {
			return nil, err
		}

		entry.mu.Lock()
		if entry.removed {
			// Lost a race with Delete or Cleanup; look the user up again.
			entry.mu.Unlock()
			continue
		}

		rec := entry.rec
		if !entry.exists {
			rec = limits.UsageRecord{UserID: userID}
		}

		changed, err := fn(&rec)
		if err != nil {
			entry.mu.Unlock()
			return nil, err
		}
		if changed {
			rec.UserID = userID
			entry.rec = rec
			entry.exists = true
		}
		entry.mu.Unlock()

		return &rec, nil
	}
}

// getOrCreate returns the entry for a user, creating an empty one if needed.
func (m *MemoryBackend) getOrCreate(userID string) (*memoryEntry, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if ok {
		return entry, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if entry, ok := m.entries[userID]; ok {
		return entry, nil
	}
	entry = &memoryEntry{}
	m.entries[userID] = entry
	return entry, nil
}

// Delete removes the usage record for a user.
func (m *MemoryBackend) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	m.mu.RLock()
	entry, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	m.removeLocked(userID, entry)
	return nil
}

// removeLocked drops entry from the map. Caller must hold entry.mu.
func (m *MemoryBackend) removeLocked(userID string, entry *memoryEntry) {
	entry.removed = true

	m.mu.Lock()
	if m.entries[userID] == entry {
		delete(m.entries, userID)
	}
	m.mu.Unlock()
}

// List returns copies of all stored usage records.
func (m *MemoryBackend) List(ctx context.Context) ([]*limits.UsageRecord, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	entries := make([]*memoryEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	records := make([]*limits.UsageRecord, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.exists && !entry.removed {
			rec := entry.rec
			records = append(records, &rec)
		}
		entry.mu.Unlock()
	}

	return records, nil
}

// Cleanup removes records whose window ended before endedBefore.
func (m *MemoryBackend) Cleanup(ctx context.Context, endedBefore time.Time) (int, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return 0, ErrClosed
	}
	candidates := make(map[string]*memoryEntry, len(m.entries))
	for userID, entry := range m.entries {
		candidates[userID] = entry
	}
	m.mu.RUnlock()

	deleted := 0
	for userID, entry := range candidates {
		entry.mu.Lock()
		if !entry.removed && (!entry.exists || entry.rec.WindowEnd.Before(endedBefore)) {
			m.removeLocked(userID, entry)
			if entry.exists {
				deleted++
			}
		}
		entry.mu.Unlock()
	}

	return deleted, nil
}

// Ping reports whether the backend is still open.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close releases all stored records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Len returns the number of users with an entry. Used by tests.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
