package invoice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists invoices in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed invoice store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invoiceColumns = `id, owner_id, address, subaddress_index, amount_xmr, status,
	confirmation_target, confirmations, paid_atomic, paid_after_expiry, paid_after_expiry_at,
	created_at, expires_at, detected_at, confirmed_at, metadata`

func (p *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	metaJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, inv.ID, inv.OwnerID, inv.Address, inv.SubaddressIndex, inv.AmountXMR.String(), inv.Status,
		inv.ConfirmationTarget, inv.Confirmations, int64(inv.PaidAtomic), inv.PaidAfterExpiry, inv.PaidAfterExpiryAt,
		inv.CreatedAt, inv.ExpiresAt, inv.DetectedAt, inv.ConfirmedAt, metaJSON)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1
	`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE owner_id = $1 ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanInvoices(rows)
}

func (p *PostgresStore) ListReconcilable(ctx context.Context, now time.Time, lookback time.Duration) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN ($1, $2)
		   OR (status = $3 AND expires_at >= $4)
		ORDER BY created_at
	`, StatusPending, StatusPaymentDetected, StatusExpired, now.Add(-lookback))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanInvoices(rows)
}

func (p *PostgresStore) Update(ctx context.Context, inv *Invoice) error {
	metaJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE invoices SET
			status = $1,
			confirmations = $2,
			paid_atomic = $3,
			paid_after_expiry = $4,
			paid_after_expiry_at = $5,
			detected_at = $6,
			confirmed_at = $7,
			metadata = $8
		WHERE id = $9
	`, inv.Status, inv.Confirmations, int64(inv.PaidAtomic), inv.PaidAfterExpiry, inv.PaidAfterExpiryAt,
		inv.DetectedAt, inv.ConfirmedAt, metaJSON, inv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var amountStr string
	var paidAtomic int64
	var metaJSON []byte
	var paidAfterExpiryAt, detectedAt, confirmedAt sql.NullTime

	if err := row.Scan(
		&inv.ID, &inv.OwnerID, &inv.Address, &inv.SubaddressIndex, &amountStr, &inv.Status,
		&inv.ConfirmationTarget, &inv.Confirmations, &paidAtomic, &inv.PaidAfterExpiry, &paidAfterExpiryAt,
		&inv.CreatedAt, &inv.ExpiresAt, &detectedAt, &confirmedAt, &metaJSON,
	); err != nil {
		return nil, err
	}

	var err error
	if inv.AmountXMR, err = decimal.NewFromString(amountStr); err != nil {
		return nil, err
	}
	inv.PaidAtomic = uint64(paidAtomic)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &inv.Metadata); err != nil {
			return nil, err
		}
	}
	if paidAfterExpiryAt.Valid {
		inv.PaidAfterExpiryAt = &paidAfterExpiryAt.Time
	}
	if detectedAt.Valid {
		inv.DetectedAt = &detectedAt.Time
	}
	if confirmedAt.Valid {
		inv.ConfirmedAt = &confirmedAt.Time
	}
	return inv, nil
}

func scanInvoices(rows *sql.Rows) ([]*Invoice, error) {
	var invs []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}
