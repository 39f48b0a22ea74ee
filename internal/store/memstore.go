package store

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertions: both stores satisfy Gateway.
var (
	_ Gateway = (*Memory)(nil)
	_ Gateway = (*Postgres)(nil)
)

// Memory implements Gateway using a map. Thread-safe via sync.RWMutex.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{users: make(map[int64]Record)}
}

// Initialize is a no-op for the in-memory store.
func (m *Memory) Initialize(_ context.Context) error {
	return nil
}

func (m *Memory) Insert(_ context.Context, name, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.users[m.nextID] = Record{ID: ptr(m.nextID), Name: name, Email: email}
	return m.nextID, nil
}

func (m *Memory) FetchByID(_ context.Context, id int64) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.users[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

// FetchAll returns every record ordered by id.
func (m *Memory) FetchAll(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.users))
	for _, rec := range m.users {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out, nil
}

func (m *Memory) UpdateByID(_ context.Context, id int64, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	m.users[id] = Record{ID: ptr(id), Name: name, Email: email}
	return nil
}

func (m *Memory) DeleteByID(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

func copyRecord(rec Record) Record {
	if rec.ID != nil {
		rec.ID = ptr(*rec.ID)
	}
	return rec
}
