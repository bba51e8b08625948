package device

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Connection is raw register access to a target.
type Connection interface {
	Open() error
	Close() error
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
}

// MockConnection is an in-memory register file.
type MockConnection struct {
	mu     sync.RWMutex
	regs   map[string][]byte
	writes []string
}

var _ Connection = &MockConnection{}

// NewMockConnection returns an empty register file.
func NewMockConnection() *MockConnection {
	return &MockConnection{regs: make(map[string][]byte)}
}

func (m *MockConnection) Open() error  { return nil }
func (m *MockConnection) Close() error { return nil }

func (m *MockConnection) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.regs[key]
	if !ok {
		return nil, pkgerrors.Errorf("register %s not found", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MockConnection) Write(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.regs[key] = v
	m.writes = append(m.writes, key)
	return nil
}

// Writes returns the keys written so far, in order.
func (m *MockConnection) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}
