// Package reconciler drives invoices through their payment state machine.
//
// Each pass selects candidate invoices, groups them by owner so a wallet
// session is opened once per owner, fetches the authoritative transfer set
// per invoice, mirrors it into the local ledger, and applies status
// transitions. Every invoice is isolated: one failure skips that invoice
// for the pass and never aborts the others.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/xmrcheckout/internal/gateway"
	"github.com/mbd888/xmrcheckout/internal/invoice"
	"github.com/mbd888/xmrcheckout/internal/ledger"
	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/traces"
	"github.com/mbd888/xmrcheckout/internal/webhooks"
)

// Notifier sends invoice lifecycle events; failures are its own concern.
type Notifier interface {
	Dispatch(ctx context.Context, own *owner.Owner, inv *invoice.Invoice, event webhooks.Event) error
}

// Config for a reconciliation runner.
type Config struct {
	// Lookback bounds how long after expiry an invoice is still scanned
	// for late payments.
	Lookback time.Duration

	// Account is the wallet account index invoices allocate subaddresses
	// from.
	Account uint32
}

// Summary reports what one pass did.
type Summary struct {
	Candidates  int
	Reconciled  int
	Skipped     int
	Transitions int
}

// Runner executes reconciliation passes.
type Runner struct {
	invoices invoice.Store
	owners   owner.Store
	ledger   *ledger.Ledger
	gw       gateway.WalletGateway
	notify   Notifier
	cfg      Config
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRunner creates a reconciliation runner.
func NewRunner(invoices invoice.Store, owners owner.Store, l *ledger.Ledger, gw gateway.WalletGateway, notify Notifier, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		invoices: invoices,
		owners:   owners,
		ledger:   l,
		gw:       gw,
		notify:   notify,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce executes a single reconciliation pass.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	ctx, span := traces.StartSpan(ctx, "reconciler.run")
	defer span.End()

	started := time.Now()
	defer func() {
		reconcileDuration.Observe(time.Since(started).Seconds())
	}()

	now := r.now()
	candidates, err := r.invoices.ListReconcilable(ctx, now, r.cfg.Lookback)
	if err != nil {
		reconcileErrors.Inc()
		return Summary{}, err
	}

	sum := Summary{Candidates: len(candidates)}
	reconcileCandidates.Set(float64(len(candidates)))

	for ownerID, group := range groupByOwner(candidates) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		own, err := r.owners.Get(ctx, ownerID)
		if err != nil {
			r.logger.Warn("skipping invoices with unresolvable owner",
				"owner", ownerID, "invoices", len(group), "error", err)
			reconcileSkips.WithLabelValues("owner_missing").Add(float64(len(group)))
			sum.Skipped += len(group)
			continue
		}
		if !own.HasWalletKeys() {
			r.logger.Warn("skipping invoices for owner without wallet keys",
				"owner", ownerID, "invoices", len(group))
			reconcileSkips.WithLabelValues("no_keys").Add(float64(len(group)))
			sum.Skipped += len(group)
			continue
		}

		sess := gateway.Session{
			UserID:         own.ID,
			PrimaryAddress: own.PrimaryAddress,
			ViewKey:        own.ViewKey,
			RestoreHeight:  own.RestoreHeight,
		}
		for _, inv := range group {
			transitions, err := r.reconcileInvoice(ctx, sess, own, inv, now)
			if err != nil {
				r.logger.Warn("invoice reconciliation failed",
					"invoice", inv.ID, "owner", ownerID, "error", err)
				reconcileSkips.WithLabelValues("fetch_failed").Inc()
				sum.Skipped++
				continue
			}
			sum.Reconciled++
			sum.Transitions += transitions
		}
	}
	return sum, nil
}

func groupByOwner(invs []*invoice.Invoice) map[string][]*invoice.Invoice {
	groups := make(map[string][]*invoice.Invoice)
	for _, inv := range invs {
		groups[inv.OwnerID] = append(groups[inv.OwnerID], inv)
	}
	return groups
}

// reconcileInvoice fetches the invoice's transfers, syncs the ledger, and
// applies the state machine. Returns how many status transitions fired.
func (r *Runner) reconcileInvoice(ctx context.Context, sess gateway.Session, own *owner.Owner, inv *invoice.Invoice, now time.Time) (int, error) {
	ctx, span := traces.StartSpan(ctx, "reconciler.invoice",
		traces.InvoiceID(inv.ID), traces.OwnerID(own.ID))
	defer span.End()

	if inv.Status.Terminal() {
		return 0, nil
	}

	transfers, err := r.gw.IncomingTransfers(ctx, sess, gateway.TransferQuery{
		Account:        r.cfg.Account,
		SubaddrIndices: []uint32{inv.SubaddressIndex},
		IncludePool:    true,
	})
	if err != nil {
		// No state change on fetch failure; the next pass retries.
		return 0, err
	}

	var totalAtomic uint64
	var maxConfirmations uint64
	records := make([]ledger.TransferRecord, 0, len(transfers))
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		totalAtomic += t.Amount
		if t.Confirmations > maxConfirmations {
			maxConfirmations = t.Confirmations
		}
		records = append(records, ledger.TransferRecord{
			TxID:          t.TxID,
			AmountAtomic:  t.Amount,
			Confirmations: t.Confirmations,
			Address:       t.Address,
			ChainTime:     time.Unix(int64(t.Timestamp), 0).UTC(),
		})
	}

	if _, err := r.ledger.Sync(ctx, inv.ID, records); err != nil {
		return 0, err
	}

	dirty := false
	if inv.PaidAtomic != totalAtomic || inv.Confirmations != maxConfirmations {
		inv.PaidAtomic = totalAtomic
		inv.Confirmations = maxConfirmations
		dirty = true
	}

	events, transitioned := r.applyStateMachine(inv, totalAtomic, maxConfirmations, now)
	if transitioned {
		dirty = true
	}

	if dirty {
		// Persist before notifying: a crash here re-delivers nothing and
		// loses at most the notifications, never the state.
		if err := r.invoices.Update(ctx, inv); err != nil {
			return 0, err
		}
	}

	for _, event := range events {
		reconcileTransitions.WithLabelValues(string(event)).Inc()
		if err := r.notify.Dispatch(ctx, own, inv, event); err != nil {
			r.logger.Warn("event dispatch failed", "invoice", inv.ID, "event", event, "error", err)
		}
	}
	return len(events), nil
}

// applyStateMachine evaluates transitions for the observed totals. The
// confirmation check runs independently of the detection check, so a fully
// confirmed payment can move pending -> payment_detected -> confirmed in
// one pass.
func (r *Runner) applyStateMachine(inv *invoice.Invoice, totalAtomic, maxConfirmations uint64, now time.Time) ([]webhooks.Event, bool) {
	var events []webhooks.Event
	transitioned := false
	required := inv.RequiredAtomic()

	if totalAtomic < required {
		if inv.Status == invoice.StatusPending && inv.Expired(now) {
			inv.Status = invoice.StatusExpired
			transitioned = true
			events = append(events, webhooks.EventExpired)
		}
	} else if inv.Status == invoice.StatusPending || inv.Status == invoice.StatusExpired {
		late := inv.Status == invoice.StatusExpired || inv.Expired(now)
		inv.Status = invoice.StatusPaymentDetected
		if inv.DetectedAt == nil {
			detected := now
			inv.DetectedAt = &detected
		}
		if late && !inv.PaidAfterExpiry {
			inv.PaidAfterExpiry = true
			lateAt := now
			inv.PaidAfterExpiryAt = &lateAt
		}
		transitioned = true
		events = append(events, webhooks.EventPaymentDetected)
	}

	if maxConfirmations >= inv.ConfirmationTarget && totalAtomic >= required &&
		inv.Status != invoice.StatusConfirmed {
		inv.Status = invoice.StatusConfirmed
		if inv.ConfirmedAt == nil {
			confirmed := now
			inv.ConfirmedAt = &confirmed
		}
		transitioned = true
		events = append(events, webhooks.EventConfirmed)
	}
	return events, transitioned
}
