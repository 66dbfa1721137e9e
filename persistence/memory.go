// Package persistence provides the built-in persistence adapters,
// registered under the names "memory" and "zookeeper".
package persistence

import (
	"sync"

	"github.com/spoutworks/sideline-client/sideline"
)

func init() {
	sideline.RegisterPersistenceAdapter("memory", func() sideline.PersistenceAdapter {
		return NewInMemory()
	})
}

type sidelineKey struct {
	request   sideline.SidelineRequestID
	partition sideline.ConsumerPartition
}

// InMemory keeps state in process memory. It survives nothing but is
// safe to share across virtual consumers; intended for tests and
// single-process runs.
type InMemory struct {
	mu        sync.RWMutex
	consumers map[string]sideline.ConsumerState
	sidelines map[sidelineKey]int64
}

// NewInMemory returns an empty adapter.
func NewInMemory() *InMemory {
	return &InMemory{
		consumers: make(map[string]sideline.ConsumerState),
		sidelines: make(map[sidelineKey]int64),
	}
}

// Open implements sideline.PersistenceAdapter.
func (m *InMemory) Open(cfg sideline.Config) error { return nil }

// Close implements sideline.PersistenceAdapter.
func (m *InMemory) Close() error { return nil }

// PersistConsumerState stores the snapshot under the consumer id.
func (m *InMemory) PersistConsumerState(consumerID string, state sideline.ConsumerState) error {
	m.mu.Lock()
	m.consumers[consumerID] = state
	m.mu.Unlock()
	return nil
}

// RetrieveConsumerState returns the stored snapshot, or nil.
func (m *InMemory) RetrieveConsumerState(consumerID string) (*sideline.ConsumerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.consumers[consumerID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// ClearConsumerState erases the stored snapshot.
func (m *InMemory) ClearConsumerState(consumerID string) error {
	m.mu.Lock()
	delete(m.consumers, consumerID)
	m.mu.Unlock()
	return nil
}

// PersistSidelineRequest stores the ending offset for one partition of a
// request.
func (m *InMemory) PersistSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition, endingOffset int64) error {
	m.mu.Lock()
	m.sidelines[sidelineKey{request: id, partition: cp}] = endingOffset
	m.mu.Unlock()
	return nil
}

// RetrieveSidelineRequest returns the stored ending offset for one
// partition of a request.
func (m *InMemory) RetrieveSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	off, ok := m.sidelines[sidelineKey{request: id, partition: cp}]
	return off, ok, nil
}

// ClearSidelineRequest erases the stored entry for one partition of a
// request.
func (m *InMemory) ClearSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition) error {
	m.mu.Lock()
	delete(m.sidelines, sidelineKey{request: id, partition: cp})
	m.mu.Unlock()
	return nil
}
