// Package ledger mirrors observed on-chain transfers per invoice.
//
// The wallet backend is the source of truth. Every reconciliation pass the
// stored records for an invoice are swept against the freshly fetched
// transfer set: missing records are inserted, drifted ones updated, and
// records whose transaction disappeared (reorg, mempool eviction) deleted.
// The local table is always an exact mirror of the last successful fetch.
package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("ledger: transfer record not found")

// TransferRecord is one observed transfer credited to an invoice. Natural
// key is (invoice, txid).
type TransferRecord struct {
	InvoiceID     string
	TxID          string
	AmountAtomic  uint64
	Confirmations uint64
	Address       string
	ChainTime     time.Time
}

func (r TransferRecord) equal(other TransferRecord) bool {
	return r.AmountAtomic == other.AmountAtomic &&
		r.Confirmations == other.Confirmations &&
		r.Address == other.Address &&
		r.ChainTime.Equal(other.ChainTime)
}

// Store persists transfer records.
type Store interface {
	ListByInvoice(ctx context.Context, invoiceID string) ([]TransferRecord, error)
	Insert(ctx context.Context, rec TransferRecord) error
	Update(ctx context.Context, rec TransferRecord) error
	Delete(ctx context.Context, invoiceID, txID string) error
}

// Ledger reconciles stored records against authoritative transfer sets.
type Ledger struct {
	store Store
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Sync makes the stored records for an invoice exactly mirror the
// authoritative set. When the same transaction appears more than once in
// the input, the last entry wins. Returns whether anything changed, which
// callers use to decide whether invoice aggregates need re-persisting.
func (l *Ledger) Sync(ctx context.Context, invoiceID string, authoritative []TransferRecord) (bool, error) {
	stored, err := l.store.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return false, err
	}

	storedByTx := make(map[string]TransferRecord, len(stored))
	for _, rec := range stored {
		storedByTx[rec.TxID] = rec
	}

	remote := make(map[string]TransferRecord, len(authoritative))
	for _, rec := range authoritative {
		rec.InvoiceID = invoiceID
		remote[rec.TxID] = rec
	}

	changed := false
	for txid, rec := range remote {
		prev, exists := storedByTx[txid]
		switch {
		case !exists:
			if err := l.store.Insert(ctx, rec); err != nil {
				return changed, err
			}
			changed = true
			syncInserts.Inc()
		case !prev.equal(rec):
			if err := l.store.Update(ctx, rec); err != nil {
				return changed, err
			}
			changed = true
			syncUpdates.Inc()
		}
	}

	for txid := range storedByTx {
		if _, still := remote[txid]; !still {
			if err := l.store.Delete(ctx, invoiceID, txid); err != nil {
				return changed, err
			}
			changed = true
			syncDeletes.Inc()
		}
	}
	return changed, nil
}
