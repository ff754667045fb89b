package owner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/xmrcheckout/internal/secrets"
)

// PostgresStore persists owners in PostgreSQL. View keys are sealed with
// the injected box before they touch the database.
type PostgresStore struct {
	db  *sql.DB
	box *secrets.Box
}

// NewPostgresStore creates a new PostgreSQL-backed owner store
func NewPostgresStore(db *sql.DB, box *secrets.Box) *PostgresStore {
	return &PostgresStore{db: db, box: box}
}

func (p *PostgresStore) Create(ctx context.Context, o *Owner) error {
	sealedKey := ""
	if o.ViewKey != "" {
		var err error
		sealedKey, err = p.box.Encrypt(o.ViewKey)
		if err != nil {
			return fmt.Errorf("owner: seal view key: %w", err)
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO owners (id, email, primary_address, view_key_enc, restore_height,
			last_subaddress_index, webhook_secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.Email, o.PrimaryAddress, sealedKey, int64(o.RestoreHeight),
		o.LastSubaddressIndex, o.WebhookSecret, o.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Owner, error) {
	o := &Owner{}
	var sealedKey string
	var restoreHeight int64

	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, primary_address, view_key_enc, restore_height,
			last_subaddress_index, webhook_secret, created_at
		FROM owners WHERE id = $1
	`, id).Scan(
		&o.ID, &o.Email, &o.PrimaryAddress, &sealedKey, &restoreHeight,
		&o.LastSubaddressIndex, &o.WebhookSecret, &o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	o.RestoreHeight = uint64(restoreHeight)
	if sealedKey != "" {
		if o.ViewKey, err = p.box.Decrypt(sealedKey); err != nil {
			return nil, fmt.Errorf("owner: unseal view key: %w", err)
		}
	}
	return o, nil
}

// AllocateSubaddressIndex increments the owner's counter under a row lock.
// Once maxIndex is reached the counter wraps back to 1 and previously
// issued indices are reused.
func (p *PostgresStore) AllocateSubaddressIndex(ctx context.Context, id string, maxIndex uint32) (uint32, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var last uint32
	err = tx.QueryRowContext(ctx, `
		SELECT last_subaddress_index FROM owners WHERE id = $1 FOR UPDATE
	`, id).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	next := nextIndex(last, maxIndex)
	if _, err := tx.ExecContext(ctx, `
		UPDATE owners SET last_subaddress_index = $1 WHERE id = $2
	`, next, id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func nextIndex(last, maxIndex uint32) uint32 {
	next := last + 1
	if next > maxIndex {
		next = 1
	}
	return next
}
