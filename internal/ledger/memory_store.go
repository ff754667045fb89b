package ledger

import (
	"context"
	"sync"
)

type txKey struct {
	invoiceID string
	txID      string
}

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[txKey]TransferRecord
}

// NewMemoryStore creates an empty in-memory transfer store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[txKey]TransferRecord)}
}

func (m *MemoryStore) ListByInvoice(_ context.Context, invoiceID string) ([]TransferRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TransferRecord
	for k, rec := range m.records {
		if k.invoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) Insert(_ context.Context, rec TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[txKey{rec.InvoiceID, rec.TxID}] = rec
	return nil
}

func (m *MemoryStore) Update(_ context.Context, rec TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := txKey{rec.InvoiceID, rec.TxID}
	if _, ok := m.records[k]; !ok {
		return ErrNotFound
	}
	m.records[k] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, invoiceID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, txKey{invoiceID, txID})
	return nil
}
