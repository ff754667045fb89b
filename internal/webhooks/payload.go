package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/mbd888/xmrcheckout/internal/invoice"
)

// GenericPayload is the generic-dialect body. Field order and presence are
// part of the wire contract: consumers may verify payloads byte-for-byte,
// so nothing here is omitempty and fields must not be reordered.
type GenericPayload struct {
	Event   Event           `json:"event"`
	Invoice InvoiceSnapshot `json:"invoice"`
}

// InvoiceSnapshot is the invoice state as serialized to generic-dialect
// consumers.
type InvoiceSnapshot struct {
	ID                 string           `json:"id"`
	Address            string           `json:"address"`
	SubaddressIndex    uint32           `json:"subaddress_index"`
	AmountXMR          string           `json:"amount_xmr"`
	Status             string           `json:"status"`
	ConfirmationTarget uint64           `json:"confirmation_target"`
	Confirmations      uint64           `json:"confirmations"`
	PaidAfterExpiry    bool             `json:"paid_after_expiry"`
	PaidAfterExpiryAt  *time.Time       `json:"paid_after_expiry_at"`
	Metadata           invoice.Metadata `json:"metadata"`
	CreatedAt          time.Time        `json:"created_at"`
	ExpiresAt          time.Time        `json:"expires_at"`
	DetectedAt         *time.Time       `json:"detected_at"`
	ConfirmedAt        *time.Time       `json:"confirmed_at"`
}

func snapshotInvoice(inv *invoice.Invoice) InvoiceSnapshot {
	return InvoiceSnapshot{
		ID:                 inv.ID,
		Address:            inv.Address,
		SubaddressIndex:    inv.SubaddressIndex,
		AmountXMR:          inv.AmountXMR.String(),
		Status:             string(inv.Status),
		ConfirmationTarget: inv.ConfirmationTarget,
		Confirmations:      inv.Confirmations,
		PaidAfterExpiry:    inv.PaidAfterExpiry,
		PaidAfterExpiryAt:  inv.PaidAfterExpiryAt,
		Metadata:           inv.Metadata,
		CreatedAt:          inv.CreatedAt,
		ExpiresAt:          inv.ExpiresAt,
		DetectedAt:         inv.DetectedAt,
		ConfirmedAt:        inv.ConfirmedAt,
	}
}

// BTCPayPayload is the btcpay-dialect body, serialized compact (no
// extraneous whitespace) because the signature covers the exact bytes.
type BTCPayPayload struct {
	Type            string           `json:"type"`
	Timestamp       int64            `json:"timestamp"`
	StoreID         string           `json:"storeId"`
	InvoiceID       string           `json:"invoiceId"`
	ManuallyMarked  bool             `json:"manuallyMarked"`
	OverPaid        bool             `json:"overPaid"`
	PartiallyPaid   bool             `json:"partiallyPaid"`
	AfterExpiration bool             `json:"afterExpiration"`
	Metadata        invoice.Metadata `json:"metadata"`
}

// BTCPay webhook type names, matching BTCPay Server's vocabulary.
const (
	BTCPayInvoiceExpired         = "InvoiceExpired"
	BTCPayInvoiceReceivedPayment = "InvoiceReceivedPayment"
	BTCPayInvoiceProcessing      = "InvoiceProcessing"
	BTCPayInvoiceSettled         = "InvoiceSettled"
	BTCPayInvoicePaymentSettled  = "InvoicePaymentSettled"
	BTCPayInvoiceInvalid         = "InvoiceInvalid"
)

// btcpayTypes maps one logical event to the btcpay webhook types it fans
// out into, in delivery order.
func btcpayTypes(event Event) []string {
	switch event {
	case EventExpired:
		return []string{BTCPayInvoiceExpired}
	case EventPaymentDetected:
		return []string{BTCPayInvoiceReceivedPayment, BTCPayInvoiceProcessing}
	case EventConfirmed:
		return []string{BTCPayInvoicePaymentSettled, BTCPayInvoiceSettled}
	case EventInvalid:
		return []string{BTCPayInvoiceInvalid}
	}
	return nil
}

func buildBTCPayPayload(inv *invoice.Invoice, whType string, now time.Time) ([]byte, error) {
	return json.Marshal(BTCPayPayload{
		Type:            whType,
		Timestamp:       now.Unix(),
		StoreID:         inv.OwnerID,
		InvoiceID:       inv.ID,
		ManuallyMarked:  whType == BTCPayInvoiceInvalid && inv.Status == invoice.StatusInvalid,
		OverPaid:        inv.OverPaid(),
		PartiallyPaid:   inv.PartiallyPaid(),
		AfterExpiration: inv.PaidAfterExpiry,
		Metadata:        inv.Metadata,
	})
}

func buildGenericPayload(inv *invoice.Invoice, event Event) ([]byte, error) {
	return json.Marshal(GenericPayload{Event: event, Invoice: snapshotInvoice(inv)})
}

// Sign computes the btcpay signature header value for a payload:
// sha256=<hex HMAC-SHA256 of the exact serialized bytes>.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a btcpay signature header value in constant time.
func VerifySignature(payload []byte, secret, header string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(header))
}
