package ledger

import (
	"context"
	"sort"
	"testing"
	"time"
)

func listSorted(t *testing.T, store Store, invoiceID string) []TransferRecord {
	t.Helper()
	recs, err := store.ListByInvoice(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("ListByInvoice: %v", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].TxID < recs[j].TxID })
	return recs
}

func TestSync_InsertsNewTransfers(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	now := time.Now().UTC().Truncate(time.Second)

	changed, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100, Confirmations: 1, ChainTime: now},
		{TxID: "bb", AmountAtomic: 200, Confirmations: 0, ChainTime: now},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !changed {
		t.Error("inserting should report change")
	}

	recs := listSorted(t, store, "inv1")
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].InvoiceID != "inv1" || recs[0].TxID != "aa" || recs[0].AmountAtomic != 100 {
		t.Errorf("rec[0] = %+v", recs[0])
	}
}

func TestSync_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	now := time.Now().UTC().Truncate(time.Second)
	set := []TransferRecord{
		{TxID: "aa", AmountAtomic: 100, Confirmations: 3, ChainTime: now},
	}

	if _, err := l.Sync(context.Background(), "inv1", set); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	changed, err := l.Sync(context.Background(), "inv1", set)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if changed {
		t.Error("identical set should report no change")
	}
}

func TestSync_UpdatesDriftedRecords(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100, Confirmations: 0, ChainTime: now},
	}); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	// Same tx, now mined with confirmations.
	changed, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100, Confirmations: 4, ChainTime: now},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !changed {
		t.Error("confirmation bump should report change")
	}
	recs := listSorted(t, store, "inv1")
	if recs[0].Confirmations != 4 {
		t.Errorf("confirmations = %d, want 4", recs[0].Confirmations)
	}
}

// {A,B} observed, then the authoritative set moves to {B,C}: A must be
// deleted, C inserted, B untouched.
func TestSync_MarkAndSweep(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100, ChainTime: now},
		{TxID: "bb", AmountAtomic: 200, ChainTime: now},
	}); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	changed, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "bb", AmountAtomic: 200, ChainTime: now},
		{TxID: "cc", AmountAtomic: 300, ChainTime: now},
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !changed {
		t.Error("membership change should report change")
	}

	recs := listSorted(t, store, "inv1")
	if len(recs) != 2 || recs[0].TxID != "bb" || recs[1].TxID != "cc" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestSync_EmptyAuthoritativeSetClears(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)

	if _, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100},
	}); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	changed, err := l.Sync(context.Background(), "inv1", nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !changed {
		t.Error("clearing should report change")
	}
	if recs := listSorted(t, store, "inv1"); len(recs) != 0 {
		t.Errorf("records remain: %+v", recs)
	}
}

func TestSync_DuplicateTxIDLastWins(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)

	if _, err := l.Sync(context.Background(), "inv1", []TransferRecord{
		{TxID: "aa", AmountAtomic: 100},
		{TxID: "aa", AmountAtomic: 150},
	}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	recs := listSorted(t, store, "inv1")
	if len(recs) != 1 || recs[0].AmountAtomic != 150 {
		t.Fatalf("records = %+v", recs)
	}
}

func TestSync_InvoicesIsolated(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)

	if _, err := l.Sync(context.Background(), "inv1", []TransferRecord{{TxID: "aa", AmountAtomic: 1}}); err != nil {
		t.Fatalf("Sync inv1: %v", err)
	}
	if _, err := l.Sync(context.Background(), "inv2", []TransferRecord{{TxID: "bb", AmountAtomic: 2}}); err != nil {
		t.Fatalf("Sync inv2: %v", err)
	}

	// Clearing inv2 must not touch inv1.
	if _, err := l.Sync(context.Background(), "inv2", nil); err != nil {
		t.Fatalf("clear inv2: %v", err)
	}
	if recs := listSorted(t, store, "inv1"); len(recs) != 1 {
		t.Errorf("inv1 records = %+v", recs)
	}
}
