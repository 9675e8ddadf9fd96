package store

import (
	"sync"

	"github.com/signalrunner/signalrunner/internal/models"
)

// Memory keeps snapshots in a map. Used by tests and by live sessions that
// opt out of disk persistence.
type Memory struct {
	mu        sync.Mutex
	pending   map[Key]*models.Signal
	scheduled map[Key]*models.Signal
}

var _ Interface = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		pending:   make(map[Key]*models.Signal),
		scheduled: make(map[Key]*models.Signal),
	}
}

func (m *Memory) ReadPending(key Key) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[key].Clone(), nil
}

func (m *Memory) ReadScheduled(key Key) (*models.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled[key].Clone(), nil
}

func (m *Memory) WritePending(key Key, signal *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if signal == nil {
		delete(m.pending, key)
		return nil
	}
	m.pending[key] = signal.Clone()
	return nil
}

func (m *Memory) WriteScheduled(key Key, signal *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if signal == nil {
		delete(m.scheduled, key)
		return nil
	}
	m.scheduled[key] = signal.Clone()
	return nil
}

func (m *Memory) Clear(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	delete(m.scheduled, key)
	return nil
}

// Noop discards every write and reads back nothing. Backtests use it so the
// simulated lifecycle pays no persistence cost.
type Noop struct{}

var _ Interface = Noop{}

func NewNoop() Noop { return Noop{} }

func (Noop) ReadPending(Key) (*models.Signal, error)      { return nil, nil }
func (Noop) ReadScheduled(Key) (*models.Signal, error)    { return nil, nil }
func (Noop) WritePending(Key, *models.Signal) error       { return nil }
func (Noop) WriteScheduled(Key, *models.Signal) error     { return nil }
func (Noop) Clear(Key) error                              { return nil }
