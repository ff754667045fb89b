package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/xmrcheckout/internal/idgen"
	"github.com/mbd888/xmrcheckout/internal/invoice"
	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/retry"
)

const (
	// HeaderSecret carries the owner's shared secret on generic-dialect
	// deliveries.
	HeaderSecret = "X-Webhook-Secret"

	// HeaderSignature carries the btcpay-dialect HMAC signature.
	HeaderSignature = "BTCPay-Sig"

	deliveryTimeout = 8 * time.Second

	// maxRedirects bounds btcpay-dialect redirect following. Hitting a
	// redirect past the cap is a delivery failure, not an exception.
	maxRedirects = 3

	deliveryAttempts  = 2
	deliveryRetryBase = 500 * time.Millisecond
)

// Dispatcher delivers invoice events to subscribed endpoints. Every
// subscription's attempt is isolated: one failure never blocks delivery to
// the others, and every attempt leaves a DeliveryRecord.
type Dispatcher struct {
	subs       Store
	deliveries DeliveryStore
	client     *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(subs Store, deliveries DeliveryStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		client: &http.Client{
			Timeout: deliveryTimeout,
			// Redirects are handled by hand so the signature and body
			// survive every hop.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Dispatch sends an event for the invoice to every matching subscription
// of its owner. Delivery failures are recorded and logged, never returned;
// the only error here is failing to list subscriptions.
func (d *Dispatcher) Dispatch(ctx context.Context, own *owner.Owner, inv *invoice.Invoice, event Event) error {
	subs, err := d.subs.ListByOwner(ctx, own.ID)
	if err != nil {
		return fmt.Errorf("webhooks: list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Wants(event) {
			continue
		}
		switch sub.Dialect {
		case DialectGeneric:
			d.deliverGeneric(ctx, sub, own, inv, event)
		case DialectBTCPay:
			for _, whType := range btcpayTypes(event) {
				d.deliverBTCPay(ctx, sub, inv, whType)
			}
		default:
			d.logger.Warn("skipping subscription with unknown dialect",
				"subscription", sub.ID, "dialect", sub.Dialect)
		}
	}
	return nil
}

func (d *Dispatcher) deliverGeneric(ctx context.Context, sub *Subscription, own *owner.Owner, inv *invoice.Invoice, event Event) {
	payload, err := buildGenericPayload(inv, event)
	if err != nil {
		d.recordFailure(ctx, sub, inv.ID, string(event), nil, 0, err)
		return
	}
	headers := http.Header{}
	headers.Set(HeaderSecret, own.WebhookSecret)

	d.attempt(ctx, sub, inv.ID, string(event), payload, headers, d.postOnce)
}

func (d *Dispatcher) deliverBTCPay(ctx context.Context, sub *Subscription, inv *invoice.Invoice, whType string) {
	payload, err := buildBTCPayPayload(inv, whType, time.Now().UTC())
	if err != nil {
		d.recordFailure(ctx, sub, inv.ID, whType, nil, 0, err)
		return
	}
	headers := http.Header{}
	headers.Set(HeaderSignature, Sign(payload, sub.Secret))

	d.attempt(ctx, sub, inv.ID, whType, payload, headers, d.postFollowingRedirects)
}

type postFunc func(ctx context.Context, rawURL string, payload []byte, headers http.Header) (int, error)

// attempt runs the delivery with a short retry on transient failures.
// Each try produces its own DeliveryRecord; non-2xx responses are terminal
// for the attempt but still recorded.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, invoiceID, event string, payload []byte, headers http.Header, post postFunc) {
	err := retry.Do(ctx, deliveryAttempts, deliveryRetryBase, func() error {
		status, postErr := post(ctx, sub.URL, payload, headers)
		if postErr != nil {
			d.recordFailure(ctx, sub, invoiceID, event, payload, status, postErr)
			return postErr
		}
		if status < 200 || status >= 300 {
			statusErr := fmt.Errorf("webhooks: endpoint returned status %d", status)
			d.recordFailure(ctx, sub, invoiceID, event, payload, status, statusErr)
			// A well-formed rejection will not improve on retry.
			return retry.Permanent(statusErr)
		}
		d.recordSuccess(ctx, sub, invoiceID, event, payload, status)
		return nil
	})
	if err != nil {
		whDeliveries.WithLabelValues(string(sub.Dialect), "failure").Inc()
		d.logger.Warn("webhook delivery failed",
			"subscription", sub.ID, "invoice", invoiceID, "event", event, "error", err)
		return
	}
	whDeliveries.WithLabelValues(string(sub.Dialect), "success").Inc()
}

// postOnce performs a single POST with no redirect following.
func (d *Dispatcher) postOnce(ctx context.Context, rawURL string, payload []byte, headers http.Header) (int, error) {
	resp, err := d.post(ctx, rawURL, payload, headers)
	if err != nil {
		return 0, err
	}
	defer drain(resp)
	return resp.StatusCode, nil
}

// postFollowingRedirects re-POSTs the signed payload across up to
// maxRedirects hops, resolving each Location against the prior URL.
func (d *Dispatcher) postFollowingRedirects(ctx context.Context, rawURL string, payload []byte, headers http.Header) (int, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("webhooks: bad subscription URL: %w", err)
	}

	for hop := 0; ; hop++ {
		resp, err := d.post(ctx, current.String(), payload, headers)
		if err != nil {
			return 0, err
		}

		if !isRedirect(resp.StatusCode) {
			defer drain(resp)
			return resp.StatusCode, nil
		}

		location := resp.Header.Get("Location")
		drain(resp)
		if hop == maxRedirects {
			whRedirectOverflow.Inc()
			return 0, fmt.Errorf("%w: gave up after %d hops at %s", ErrTooManyHops, hop, current)
		}
		if location == "" {
			return 0, fmt.Errorf("webhooks: redirect from %s without Location", current)
		}
		next, err := current.Parse(location)
		if err != nil {
			return 0, fmt.Errorf("webhooks: bad redirect target %q: %w", location, err)
		}
		current = next
	}
}

func (d *Dispatcher) post(ctx context.Context, rawURL string, payload []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	return d.client.Do(req)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription, invoiceID, event string, payload []byte, status int) {
	d.insertRecord(ctx, sub, invoiceID, event, payload, status, true, "")

	now := time.Now().UTC()
	sub.LastSuccess = &now
	sub.LastError = ""
	if err := d.subs.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update subscription bookkeeping", "subscription", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, invoiceID, event string, payload []byte, status int, cause error) {
	d.insertRecord(ctx, sub, invoiceID, event, payload, status, false, cause.Error())

	sub.LastError = cause.Error()
	if err := d.subs.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update subscription bookkeeping", "subscription", sub.ID, "error", err)
	}
}

func (d *Dispatcher) insertRecord(ctx context.Context, sub *Subscription, invoiceID, event string, payload []byte, status int, success bool, errMsg string) {
	rec := &DeliveryRecord{
		ID:             idgen.WithPrefix("del_"),
		SubscriptionID: sub.ID,
		InvoiceID:      invoiceID,
		Event:          event,
		URL:            sub.URL,
		Payload:        payload,
		StatusCode:     status,
		Error:          errMsg,
		Success:        success,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.deliveries.Insert(ctx, rec); err != nil {
		d.logger.Error("failed to persist delivery record", "subscription", sub.ID, "error", err)
	}
}

// Redeliver resends a recorded delivery to its original URL. The recorded
// payload is reused byte-for-byte when present; otherwise the payload is
// rebuilt from the invoice's current state. The resend produces a fresh
// DeliveryRecord.
func (d *Dispatcher) Redeliver(ctx context.Context, deliveryID string, inv *invoice.Invoice, own *owner.Owner) error {
	rec, err := d.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	sub, err := d.subs.Get(ctx, rec.SubscriptionID)
	if err != nil {
		return err
	}

	payload := rec.Payload
	if len(payload) == 0 {
		switch sub.Dialect {
		case DialectGeneric:
			payload, err = buildGenericPayload(inv, Event(rec.Event))
		case DialectBTCPay:
			payload, err = buildBTCPayPayload(inv, rec.Event, time.Now().UTC())
		default:
			return fmt.Errorf("%w: %s", ErrBadDialect, sub.Dialect)
		}
		if err != nil {
			return err
		}
	}

	headers := http.Header{}
	post := d.postOnce
	switch sub.Dialect {
	case DialectGeneric:
		headers.Set(HeaderSecret, own.WebhookSecret)
	case DialectBTCPay:
		headers.Set(HeaderSignature, Sign(payload, sub.Secret))
		post = d.postFollowingRedirects
	default:
		return fmt.Errorf("%w: %s", ErrBadDialect, sub.Dialect)
	}

	// Redelivery targets the URL recorded at original delivery time, not
	// the subscription's current URL.
	target := *sub
	target.URL = rec.URL
	d.attempt(ctx, &target, rec.InvoiceID, rec.Event, payload, headers, post)
	return nil
}
