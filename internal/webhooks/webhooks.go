// Package webhooks notifies external services of invoice lifecycle events.
//
// Two delivery dialects are supported. The generic dialect posts a full
// invoice snapshot and authenticates with the owner's shared secret in a
// header. The btcpay dialect is wire-compatible with BTCPay Server store
// webhooks: compact payload, HMAC-SHA256 signature header, per-subscription
// secret, bounded redirect following.
package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound    = errors.New("webhooks: subscription not found")
	ErrTooManyHops = errors.New("webhooks: redirect limit exceeded")
	ErrBadDialect  = errors.New("webhooks: unknown dialect")
)

// Event is a logical invoice lifecycle event. The btcpay dialect fans one
// logical event out into its own webhook type names.
type Event string

const (
	EventPaymentDetected Event = "invoice.payment_detected"
	EventConfirmed       Event = "invoice.confirmed"
	EventExpired         Event = "invoice.expired"
	EventInvalid         Event = "invoice.invalid"
)

// Dialect selects the wire format of a subscription.
type Dialect string

const (
	DialectGeneric Dialect = "generic"
	DialectBTCPay  Dialect = "btcpay"
)

// Subscription is one registered webhook endpoint.
type Subscription struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	Dialect Dialect `json:"dialect"`
	URL     string  `json:"url"`

	// Secret signs btcpay-dialect payloads. Generic-dialect deliveries use
	// the owner's shared secret instead and leave this empty.
	Secret string `json:"-"`

	// Everything subscribes to all events; otherwise Events is the
	// allow-list.
	Everything bool    `json:"everything"`
	Events     []Event `json:"events,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`

	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Wants reports whether the subscription should receive the event.
func (s *Subscription) Wants(event Event) bool {
	if !s.Enabled {
		return false
	}
	if s.Everything {
		return true
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.OwnerID == ownerID {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
