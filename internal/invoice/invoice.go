// Package invoice models payment invoices and their lifecycle.
package invoice

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound      = errors.New("invoice: not found")
	ErrInvalidAmount = errors.New("invoice: invalid amount")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Status is an invoice lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPaymentDetected Status = "payment_detected"
	StatusConfirmed       Status = "confirmed"
	StatusExpired         Status = "expired"
	StatusInvalid         Status = "invalid"
)

// Terminal reports whether no reconciliation pass may touch this status.
// Expired is deliberately not terminal: late payments within the lookback
// window still move an expired invoice forward.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusInvalid
}

// AtomicPerXMR is the number of atomic units (piconero) in one XMR.
const AtomicPerXMR = 1_000_000_000_000

// Invoice is one payment request against an owner's wallet. Payment fields
// (status, confirmations, paid amount, timestamps) are written only by the
// reconciliation loop; everything else is set at creation.
type Invoice struct {
	ID      string
	OwnerID string

	// Address is the subaddress derived for this invoice; SubaddressIndex
	// is its minor index in the owner's wallet account.
	Address         string
	SubaddressIndex uint32

	// AmountXMR is the requested amount in display units, 12 decimal places.
	AmountXMR decimal.Decimal

	Status Status

	// ConfirmationTarget is how many confirmations settle the invoice.
	// Confirmations is the maximum observed across its transfers.
	ConfirmationTarget uint64
	Confirmations      uint64

	// PaidAtomic is the cumulative observed payment in atomic units.
	PaidAtomic uint64

	// PaidAfterExpiry latches on the first late detection and never clears.
	PaidAfterExpiry   bool
	PaidAfterExpiryAt *time.Time

	CreatedAt   time.Time
	ExpiresAt   time.Time
	DetectedAt  *time.Time
	ConfirmedAt *time.Time

	Metadata Metadata
}

// RequiredAtomic converts the invoice amount to atomic units, truncating
// toward zero. 1.0000000000009 XMR requires 1_000_000_000_000 atomic, not
// 1_000_000_000_001.
func (inv *Invoice) RequiredAtomic() uint64 {
	return AtomicFromXMR(inv.AmountXMR)
}

// Expired reports whether the invoice's expiry timestamp has passed.
func (inv *Invoice) Expired(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// OverPaid reports whether the observed total exceeds the required amount.
func (inv *Invoice) OverPaid() bool {
	return inv.PaidAtomic > inv.RequiredAtomic()
}

// PartiallyPaid reports a nonzero payment below the required amount.
func (inv *Invoice) PartiallyPaid() bool {
	return inv.PaidAtomic > 0 && inv.PaidAtomic < inv.RequiredAtomic()
}

// Validate checks fields settable at creation.
func (inv *Invoice) Validate() error {
	if inv.OwnerID == "" {
		return fmt.Errorf("invoice: owner ID required")
	}
	if inv.AmountXMR.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, inv.AmountXMR)
	}
	if inv.ExpiresAt.Before(inv.CreatedAt) {
		return fmt.Errorf("invoice: expires before creation")
	}
	return nil
}

// AtomicFromXMR converts a display-unit amount to atomic units, truncating
// toward zero. Negative amounts map to 0; amounts beyond uint64 range clamp
// to the maximum.
func AtomicFromXMR(amount decimal.Decimal) uint64 {
	if amount.Sign() <= 0 {
		return 0
	}
	shifted := amount.Shift(12).BigInt()
	if !shifted.IsUint64() {
		return math.MaxUint64
	}
	return shifted.Uint64()
}

// XMRFromAtomic converts atomic units back to a display-unit decimal.
func XMRFromAtomic(atomic uint64) decimal.Decimal {
	return decimal.New(int64(atomic), -12)
}
