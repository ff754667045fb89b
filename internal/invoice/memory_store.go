package invoice

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice
}

// NewMemoryStore creates an empty in-memory invoice store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[string]*Invoice)}
}

func (m *MemoryStore) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.OwnerID == ownerID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ListReconcilable(_ context.Context, now time.Time, lookback time.Duration) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := now.Add(-lookback)
	var out []*Invoice
	for _, inv := range m.invoices {
		switch inv.Status {
		case StatusPending, StatusPaymentDetected:
			cp := *inv
			out = append(out, &cp)
		case StatusExpired:
			if !inv.ExpiresAt.Before(cutoff) {
				cp := *inv
				out = append(out, &cp)
			}
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func sortByCreation(invs []*Invoice) {
	sort.Slice(invs, func(i, j int) bool {
		if invs[i].CreatedAt.Equal(invs[j].CreatedAt) {
			return invs[i].ID < invs[j].ID
		}
		return invs[i].CreatedAt.Before(invs[j].CreatedAt)
	})
}
