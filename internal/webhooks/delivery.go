package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// DeliveryRecord is an immutable audit entry for one delivery attempt.
// Records are never mutated; redelivery creates a new record.
type DeliveryRecord struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	InvoiceID      string    `json:"invoiceId"`
	Event          string    `json:"event"` // dialect-level event/type name
	URL            string    `json:"url"`
	Payload        []byte    `json:"payload"`
	StatusCode     int       `json:"statusCode"` // 0 when no response was received
	Error          string    `json:"error,omitempty"`
	Success        bool      `json:"success"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DeliveryStore persists delivery records
type DeliveryStore interface {
	Insert(ctx context.Context, rec *DeliveryRecord) error
	Get(ctx context.Context, id string) (*DeliveryRecord, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*DeliveryRecord, error)
}

var ErrDeliveryNotFound = errors.New("webhooks: delivery record not found")

// MemoryDeliveryStore is an in-memory implementation for testing
type MemoryDeliveryStore struct {
	mu   sync.RWMutex
	recs []*DeliveryRecord
}

// NewMemoryDeliveryStore creates a new in-memory delivery store
func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{}
}

func (m *MemoryDeliveryStore) Insert(_ context.Context, rec *DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *MemoryDeliveryStore) Get(_ context.Context, id string) (*DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.recs {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrDeliveryNotFound
}

func (m *MemoryDeliveryStore) ListByInvoice(_ context.Context, invoiceID string) ([]*DeliveryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*DeliveryRecord
	for _, rec := range m.recs {
		if rec.InvoiceID == invoiceID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PostgresDeliveryStore persists delivery records in PostgreSQL
type PostgresDeliveryStore struct {
	db *sql.DB
}

// NewPostgresDeliveryStore creates a new PostgreSQL-backed delivery store
func NewPostgresDeliveryStore(db *sql.DB) *PostgresDeliveryStore {
	return &PostgresDeliveryStore{db: db}
}

func (p *PostgresDeliveryStore) Insert(ctx context.Context, rec *DeliveryRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, invoice_id, event, url, payload, status_code, error, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.SubscriptionID, rec.InvoiceID, rec.Event, rec.URL, rec.Payload, rec.StatusCode, rec.Error, rec.Success, rec.CreatedAt)
	return err
}

func (p *PostgresDeliveryStore) Get(ctx context.Context, id string) (*DeliveryRecord, error) {
	rec := &DeliveryRecord{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, invoice_id, event, url, payload, status_code, error, success, created_at
		FROM webhook_deliveries WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.SubscriptionID, &rec.InvoiceID, &rec.Event, &rec.URL,
		&rec.Payload, &rec.StatusCode, &rec.Error, &rec.Success, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresDeliveryStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*DeliveryRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, subscription_id, invoice_id, event, url, payload, status_code, error, success, created_at
		FROM webhook_deliveries WHERE invoice_id = $1 ORDER BY created_at DESC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []*DeliveryRecord
	for rows.Next() {
		rec := &DeliveryRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.SubscriptionID, &rec.InvoiceID, &rec.Event, &rec.URL,
			&rec.Payload, &rec.StatusCode, &rec.Error, &rec.Success, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
