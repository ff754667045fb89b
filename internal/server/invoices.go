package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/xmrcheckout/internal/auth"
	"github.com/mbd888/xmrcheckout/internal/idgen"
	"github.com/mbd888/xmrcheckout/internal/invoice"
	"github.com/mbd888/xmrcheckout/internal/logging"
	"github.com/mbd888/xmrcheckout/internal/metrics"
	"github.com/mbd888/xmrcheckout/internal/subaddr"
	"github.com/mbd888/xmrcheckout/internal/validation"
	"github.com/mbd888/xmrcheckout/internal/webhooks"
)

type fiatRequest struct {
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`
}

type createInvoiceRequest struct {
	// Exactly one of AmountXMR and Fiat must be set.
	AmountXMR string       `json:"amount_xmr"`
	Fiat      *fiatRequest `json:"fiat"`

	Description string `json:"description"`
	RedirectURL string `json:"redirect_url"`
	BuyerEmail  string `json:"buyer_email"`

	// ConfirmationTarget overrides the configured default. 0 accepts
	// unconfirmed (mempool) payments as final.
	ConfirmationTarget *uint64 `json:"confirmation_target"`

	// ExpiryMinutes overrides the configured default expiry window.
	ExpiryMinutes int `json:"expiry_minutes"`
}

func (s *Server) createInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if (req.AmountXMR == "") == (req.Fiat == nil) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "exactly one of amount_xmr or fiat must be provided",
		})
		return
	}

	ctx := c.Request.Context()
	ownerID := c.Param("ownerId")

	own, err := s.owners.Get(ctx, ownerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Owner not found",
		})
		return
	}
	if !own.HasWalletKeys() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_wallet_keys",
			"message": "Owner has no wallet keys configured",
		})
		return
	}

	var (
		amountXMR decimal.Decimal
		quote     *invoice.Quote
	)
	if req.Fiat != nil {
		fiatAmount, err := decimal.NewFromString(req.Fiat.Amount)
		if err != nil || fiatAmount.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "fiat.amount must be a positive decimal",
			})
			return
		}
		rate, err := s.quoter.Rate(ctx, req.Fiat.Currency)
		if err != nil {
			logging.L(ctx).Error("fiat quote failed", "currency", req.Fiat.Currency, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "rate_unavailable",
				"message": "Could not fetch an exchange rate for " + req.Fiat.Currency,
			})
			return
		}
		amountXMR = fiatAmount.DivRound(rate, 12)
		quote = &invoice.Quote{
			Currency: req.Fiat.Currency,
			Amount:   fiatAmount,
			Rate:     rate,
			QuotedAt: time.Now().Unix(),
		}
	} else {
		amountXMR, err = decimal.NewFromString(req.AmountXMR)
		if err != nil || amountXMR.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "amount_xmr must be a positive decimal",
			})
			return
		}
	}

	idx, err := s.owners.AllocateSubaddressIndex(ctx, own.ID, uint32(s.cfg.MaxSubaddressIndex))
	if err != nil {
		logging.L(ctx).Error("subaddress index allocation failed", "owner_id", own.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to allocate a payment address",
		})
		return
	}

	address, err := subaddr.Derive(own.PrimaryAddress, own.ViewKey, 0, idx)
	if err != nil {
		logging.L(ctx).Error("subaddress derivation failed",
			"owner_id", own.ID,
			"index", idx,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to derive a payment address",
		})
		return
	}

	now := time.Now().UTC()

	expiry := time.Duration(s.cfg.DefaultExpiryHours) * time.Hour
	if req.ExpiryMinutes > 0 {
		expiry = time.Duration(req.ExpiryMinutes) * time.Minute
	}

	target := uint64(s.cfg.DefaultConfirmations)
	if req.ConfirmationTarget != nil {
		target = *req.ConfirmationTarget
	}

	inv := &invoice.Invoice{
		ID:                 idgen.WithPrefix("inv_"),
		OwnerID:            own.ID,
		Address:            address,
		SubaddressIndex:    idx,
		AmountXMR:          amountXMR,
		Status:             invoice.StatusPending,
		ConfirmationTarget: target,
		CreatedAt:          now,
		ExpiresAt:          now.Add(expiry),
		Metadata: invoice.Metadata{
			Quote: quote,
			Checkout: &invoice.Checkout{
				Description: validation.SanitizeString(req.Description, 500),
				RedirectURL: req.RedirectURL,
				BuyerEmail:  validation.SanitizeString(req.BuyerEmail, 254),
			},
		},
	}

	if err := inv.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_invoice",
			"message": err.Error(),
		})
		return
	}

	if err := s.invoices.Create(ctx, inv); err != nil {
		logging.L(ctx).Error("invoice creation failed", "owner_id", own.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to create invoice",
		})
		return
	}

	metrics.InvoicesCreatedTotal.Inc()
	logging.L(ctx).Info("invoice created",
		"invoice_id", inv.ID,
		"owner_id", own.ID,
		"amount_xmr", inv.AmountXMR.String(),
		"subaddress_index", idx,
	)

	c.JSON(http.StatusCreated, gin.H{"invoice": invoiceView(inv)})
}

func (s *Server) listInvoices(c *gin.Context) {
	invs, err := s.invoices.ListByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list invoices",
		})
		return
	}

	views := make([]gin.H, 0, len(invs))
	for _, inv := range invs {
		views = append(views, invoiceView(inv))
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": views,
		"count":    len(views),
	})
}

// getInvoice is the public checkout view. It exposes only what a buyer's
// browser needs to render payment progress.
func (s *Server) getInvoice(c *gin.Context) {
	inv, err := s.invoices.Get(c.Request.Context(), c.Param("invoiceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Invoice not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoiceView(inv)})
}

// invalidateInvoice cancels an invoice that has not yet settled. The
// reconciliation loop never touches invalid invoices again.
func (s *Server) invalidateInvoice(c *gin.Context) {
	ctx := c.Request.Context()

	inv, err := s.invoices.Get(ctx, c.Param("invoiceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Invoice not found",
		})
		return
	}
	if auth.AuthenticatedOwner(c) != inv.OwnerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Invoice belongs to a different owner",
		})
		return
	}
	if inv.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "terminal_status",
			"message": "Invoice is already " + string(inv.Status),
		})
		return
	}

	inv.Status = invoice.StatusInvalid
	if err := s.invoices.Update(ctx, inv); err != nil {
		logging.L(ctx).Error("invoice invalidation failed", "invoice_id", inv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "update_failed",
			"message": "Failed to invalidate invoice",
		})
		return
	}

	metrics.InvoicesInvalidatedTotal.Inc()

	if own, err := s.owners.Get(ctx, inv.OwnerID); err == nil {
		if err := s.dispatcher.Dispatch(ctx, own, inv, webhooks.EventInvalid); err != nil {
			logging.L(ctx).Warn("invalidation webhook dispatch failed",
				"invoice_id", inv.ID,
				"error", err,
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{"invoice": invoiceView(inv)})
}

func (s *Server) getRate(c *gin.Context) {
	currency := c.Param("currency")
	rate, err := s.quoter.Rate(c.Request.Context(), currency)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "rate_unavailable",
			"message": "Could not fetch an exchange rate for " + currency,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"currency": currency,
		"rate":     rate,
	})
}

// invoiceView shapes an invoice for API responses.
func invoiceView(inv *invoice.Invoice) gin.H {
	v := gin.H{
		"id":                  inv.ID,
		"owner_id":            inv.OwnerID,
		"address":             inv.Address,
		"amount_xmr":          inv.AmountXMR,
		"status":              string(inv.Status),
		"confirmation_target": inv.ConfirmationTarget,
		"confirmations":       inv.Confirmations,
		"paid_xmr":            invoice.XMRFromAtomic(inv.PaidAtomic),
		"payment_uri":         paymentURI(inv),
		"created_at":          inv.CreatedAt,
		"expires_at":          inv.ExpiresAt,
	}
	if inv.DetectedAt != nil {
		v["detected_at"] = inv.DetectedAt
	}
	if inv.ConfirmedAt != nil {
		v["confirmed_at"] = inv.ConfirmedAt
	}
	if inv.PaidAfterExpiry {
		v["paid_after_expiry"] = true
	}
	if q := inv.Metadata.Quote; q != nil {
		v["quote"] = q
	}
	if ck := inv.Metadata.Checkout; ck != nil && (ck.Description != "" || ck.RedirectURL != "") {
		v["checkout"] = ck
	}
	return v
}

// paymentURI builds a monero: URI per the wallet URI scheme so checkout
// pages can render it as a QR code.
func paymentURI(inv *invoice.Invoice) string {
	uri := "monero:" + inv.Address
	includeAmount := true
	if qr := inv.Metadata.QR; qr != nil {
		includeAmount = qr.IncludeAmount
	}
	if includeAmount {
		uri += "?tx_amount=" + inv.AmountXMR.String()
	}
	return uri
}
