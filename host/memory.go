package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Memory is an in-process Host. It backs one-shot runs and tests.
type Memory struct {
	l           *zap.SugaredLogger
	mu          sync.Mutex
	accessories map[string]*Accessory
	changes     int
}

func NewMemory(logger *zap.SugaredLogger) *Memory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Memory{l: logger, accessories: map[string]*Accessory{}}
}

func (m *Memory) Register(_ context.Context, accessories ...*Accessory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range accessories {
		if _, ok := m.accessories[acc.UUID]; ok {
			return fmt.Errorf("accessory %s already registered", acc.UUID)
		}
	}
	for _, acc := range accessories {
		acc.Bind(m)
		m.accessories[acc.UUID] = acc
	}
	return nil
}

func (m *Memory) Update(_ context.Context, accessories ...*Accessory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range accessories {
		if _, ok := m.accessories[acc.UUID]; !ok {
			return fmt.Errorf("accessory %s is not registered", acc.UUID)
		}
		acc.Bind(m)
		m.accessories[acc.UUID] = acc
	}
	return nil
}

func (m *Memory) Unregister(_ context.Context, accessories ...*Accessory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range accessories {
		if _, ok := m.accessories[acc.UUID]; !ok {
			return fmt.Errorf("accessory %s is not registered", acc.UUID)
		}
		delete(m.accessories, acc.UUID)
		acc.Bind(nil)
	}
	return nil
}

// Restore hands every registered accessory to fn, like a host does after restart.
func (m *Memory) Restore(fn func(*Accessory)) {
	for _, acc := range m.Accessories() {
		fn(acc)
	}
}

// Accessories returns registered accessories sorted by UUID.
func (m *Memory) Accessories() []*Accessory {
	m.mu.Lock()
	out := make([]*Accessory, 0, len(m.accessories))
	for _, acc := range m.accessories {
		out = append(out, acc)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Changes counts value notifications received.
func (m *Memory) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes
}

func (m *Memory) ValueChanged(acc *Accessory, rep *Representation) {
	m.mu.Lock()
	m.changes++
	m.mu.Unlock()
	m.l.Infof("%s [%s] = %v %s", acc.DisplayName, rep.Type, rep.Value(), rep.Unit)
}
