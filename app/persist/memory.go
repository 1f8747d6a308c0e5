package persist

import (
	"context"
	"sync"
)

// Memory keeps persisted blob in process memory
type Memory struct {
	mu     sync.Mutex
	data   []byte
	writes int
}

// NewMemory makes empty Memory backend
func NewMemory() *Memory {
	return &Memory{}
}

// Read returns stored copy or ErrNotFound
func (m *Memory) Read(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

// Write stores a copy of data
func (m *Memory) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	m.writes++
	return nil
}

// Remove drops stored data
func (m *Memory) Remove(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Writes returns number of writes made
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) String() string { return "memory" }
