// Package rates quotes XMR prices in fiat for invoice amount conversion.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("rates: quote unavailable")

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	cacheTTL       = 60 * time.Second
	requestTimeout = 5 * time.Second
)

// Quoter fetches XMR spot prices from CoinGecko with a short cache so a
// burst of invoice creations costs one upstream call.
type Quoter struct {
	baseURL string
	apiKey  string
	httpc   *http.Client

	mu    sync.Mutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	rate    decimal.Decimal
	fetched time.Time
}

// Option configures the quoter.
type Option func(*Quoter)

// WithBaseURL overrides the upstream API base (useful for testing).
func WithBaseURL(u string) Option {
	return func(q *Quoter) { q.baseURL = strings.TrimRight(u, "/") }
}

// New creates a quoter. apiKey may be empty for the public tier.
func New(apiKey string, opts ...Option) *Quoter {
	q := &Quoter{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: requestTimeout},
		cache:   make(map[string]cachedQuote),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Rate returns how much one XMR is worth in the given fiat currency
// (e.g. "usd", "eur").
func (q *Quoter) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToLower(currency)

	q.mu.Lock()
	if c, ok := q.cache[currency]; ok && time.Since(c.fetched) < cacheTTL {
		q.mu.Unlock()
		return c.rate, nil
	}
	q.mu.Unlock()

	rate, err := q.fetch(ctx, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}

	q.mu.Lock()
	q.cache[currency] = cachedQuote{rate: rate, fetched: time.Now()}
	q.mu.Unlock()
	return rate, nil
}

// XMRForFiat converts a fiat amount into XMR at the current rate, rounded
// to 12 decimal places.
func (q *Quoter) XMRForFiat(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := q.Rate(ctx, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: nonpositive rate for %s", ErrUnavailable, currency)
	}
	return amount.DivRound(rate, 12), nil
}

func (q *Quoter) fetch(ctx context.Context, currency string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/simple/price?ids=monero&vs_currencies=%s", q.baseURL, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if q.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", q.apiKey)
	}

	resp, err := q.httpc.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	raw, ok := decoded["monero"][currency]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no quote for %s", ErrUnavailable, currency)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad quote %q", ErrUnavailable, raw)
	}
	return rate, nil
}
