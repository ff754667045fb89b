package invoice

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Metadata carries per-invoice extension data. Known sub-keys get typed
// fields; anything else survives round trips through Extra so callers can
// attach data we do not interpret.
type Metadata struct {
	Quote    *Quote         `json:"-"`
	Checkout *Checkout      `json:"-"`
	QR       *QRSettings    `json:"-"`
	Extra    map[string]any `json:"-"`
}

// Quote records the fiat quote an invoice amount was derived from.
type Quote struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Rate     decimal.Decimal `json:"rate"`
	QuotedAt int64           `json:"quoted_at,omitempty"`
}

// Checkout holds presentation hints for a hosted checkout page.
type Checkout struct {
	Description string `json:"description,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	BuyerEmail  string `json:"buyer_email,omitempty"`
}

// QRSettings controls QR code rendering on the checkout page.
type QRSettings struct {
	IncludeAmount bool `json:"include_amount"`
	Monochrome    bool `json:"monochrome,omitempty"`
}

const (
	metaKeyQuote    = "quote"
	metaKeyCheckout = "checkout"
	metaKeyQR       = "qr_settings"
)

// IsZero reports whether the metadata carries nothing.
func (m Metadata) IsZero() bool {
	return m.Quote == nil && m.Checkout == nil && m.QR == nil && len(m.Extra) == 0
}

// MarshalJSON flattens typed fields and Extra into one object. Typed fields
// win on key collision.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Quote != nil {
		out[metaKeyQuote] = m.Quote
	}
	if m.Checkout != nil {
		out[metaKeyCheckout] = m.Checkout
	}
	if m.QR != nil {
		out[metaKeyQR] = m.QR
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys into typed fields and keeps the rest
// in Extra. A known key that fails to parse as its typed shape stays in
// Extra untouched rather than erroring the whole invoice.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	for k, v := range raw {
		switch k {
		case metaKeyQuote:
			var q Quote
			if err := json.Unmarshal(v, &q); err == nil {
				m.Quote = &q
				continue
			}
		case metaKeyCheckout:
			var c Checkout
			if err := json.Unmarshal(v, &c); err == nil {
				m.Checkout = &c
				continue
			}
		case metaKeyQR:
			var q QRSettings
			if err := json.Unmarshal(v, &q); err == nil {
				m.QR = &q
				continue
			}
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = val
	}
	return nil
}
