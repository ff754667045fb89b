// Package owner models merchant accounts and their subaddress counters.
package owner

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound = errors.New("owner: not found")
	ErrNoKeys   = errors.New("owner: wallet keys not configured")
)

// Owner is a merchant account: one primary wallet (address + private view
// key) and a counter for the subaddress indices issued to its invoices.
// The view key is held encrypted at rest; Store implementations return it
// decrypted.
type Owner struct {
	ID             string
	Email          string
	PrimaryAddress string
	ViewKey        string

	// RestoreHeight seeds wallet provisioning so the backend does not
	// rescan the chain from genesis.
	RestoreHeight uint64

	// LastSubaddressIndex is the most recently issued minor index.
	// Managed exclusively through Store.AllocateSubaddressIndex.
	LastSubaddressIndex uint32

	// WebhookSecret authenticates generic-dialect webhook deliveries for
	// every subscription this owner creates.
	WebhookSecret string

	CreatedAt time.Time
}

// HasWalletKeys reports whether the owner can receive payments.
func (o *Owner) HasWalletKeys() bool {
	return o.PrimaryAddress != "" && o.ViewKey != ""
}

// Store persists owners. AllocateSubaddressIndex must hold an exclusive
// lock on the owner row for the read-increment-write so concurrent invoice
// creation never issues the same index twice.
type Store interface {
	Create(ctx context.Context, o *Owner) error
	Get(ctx context.Context, id string) (*Owner, error)

	// AllocateSubaddressIndex returns the next minor index for the owner,
	// wrapping back to 1 once maxIndex has been issued. Indices start at 1;
	// index 0 is the wallet's primary address and is never issued.
	AllocateSubaddressIndex(ctx context.Context, id string, maxIndex uint32) (uint32, error)
}
