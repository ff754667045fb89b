package ledger

import (
	"context"
	"database/sql"
)

// PostgresStore persists transfer records in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transfer store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) ListByInvoice(ctx context.Context, invoiceID string) ([]TransferRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT invoice_id, txid, amount_atomic, confirmations, address, chain_time
		FROM invoice_transfers WHERE invoice_id = $1
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		var amount, confirmations int64
		if err := rows.Scan(&rec.InvoiceID, &rec.TxID, &amount, &confirmations, &rec.Address, &rec.ChainTime); err != nil {
			return nil, err
		}
		rec.AmountAtomic = uint64(amount)
		rec.Confirmations = uint64(confirmations)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *PostgresStore) Insert(ctx context.Context, rec TransferRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoice_transfers (invoice_id, txid, amount_atomic, confirmations, address, chain_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.InvoiceID, rec.TxID, int64(rec.AmountAtomic), int64(rec.Confirmations), rec.Address, rec.ChainTime)
	return err
}

func (p *PostgresStore) Update(ctx context.Context, rec TransferRecord) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE invoice_transfers SET
			amount_atomic = $1,
			confirmations = $2,
			address = $3,
			chain_time = $4
		WHERE invoice_id = $5 AND txid = $6
	`, int64(rec.AmountAtomic), int64(rec.Confirmations), rec.Address, rec.ChainTime, rec.InvoiceID, rec.TxID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, invoiceID, txID string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM invoice_transfers WHERE invoice_id = $1 AND txid = $2
	`, invoiceID, txID)
	return err
}
