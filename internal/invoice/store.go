package invoice

import (
	"context"
	"time"
)

// Store persists invoices. Implementations must make Update a single
// atomic write: a crash between two reconciliation passes may lose
// progress but must never leave an invoice half-transitioned.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Invoice, error)

	// ListReconcilable returns candidates for a reconciliation pass:
	// pending and payment_detected invoices, plus expired invoices whose
	// expiry falls within the lookback window ending at now.
	ListReconcilable(ctx context.Context, now time.Time, lookback time.Duration) ([]*Invoice, error)

	Update(ctx context.Context, inv *Invoice) error
}
