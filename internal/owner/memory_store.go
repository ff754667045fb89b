package owner

import (
	"context"
	"sync"

	"github.com/mbd888/xmrcheckout/internal/syncutil"
)

// MemoryStore is an in-memory Store for tests and single-node development.
// A per-owner sharded lock stands in for the row lock the Postgres store
// takes during index allocation.
type MemoryStore struct {
	mu     sync.RWMutex
	locks  syncutil.ShardedMutex
	owners map[string]*Owner
}

// NewMemoryStore creates an empty in-memory owner store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]*Owner)}
}

func (m *MemoryStore) Create(_ context.Context, o *Owner) error {
	unlock := m.locks.Lock(o.ID)
	defer unlock()

	cp := *o
	m.mu.Lock()
	m.owners[o.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Owner, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.RLock()
	o, ok := m.owners[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) AllocateSubaddressIndex(_ context.Context, id string, maxIndex uint32) (uint32, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.RLock()
	o, ok := m.owners[id]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	o.LastSubaddressIndex = nextIndex(o.LastSubaddressIndex, maxIndex)
	return o.LastSubaddressIndex, nil
}
