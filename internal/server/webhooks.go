package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/xmrcheckout/internal/auth"
	"github.com/mbd888/xmrcheckout/internal/idgen"
	"github.com/mbd888/xmrcheckout/internal/logging"
	"github.com/mbd888/xmrcheckout/internal/security"
	"github.com/mbd888/xmrcheckout/internal/webhooks"
)

type createWebhookRequest struct {
	URL        string           `json:"url" binding:"required"`
	Dialect    string           `json:"dialect"`
	Everything *bool            `json:"everything"`
	Events     []webhooks.Event `json:"events"`
}

type updateWebhookRequest struct {
	URL        string           `json:"url"`
	Everything *bool            `json:"everything"`
	Events     []webhooks.Event `json:"events"`
	Enabled    *bool            `json:"enabled"`
}

func (s *Server) createWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	dialect := webhooks.DialectGeneric
	switch webhooks.Dialect(req.Dialect) {
	case "", webhooks.DialectGeneric:
	case webhooks.DialectBTCPay:
		dialect = webhooks.DialectBTCPay
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_dialect",
			"message": "dialect must be generic or btcpay",
		})
		return
	}

	sub := &webhooks.Subscription{
		ID:         idgen.WithPrefix("wh_"),
		OwnerID:    c.Param("ownerId"),
		Dialect:    dialect,
		URL:        req.URL,
		Everything: req.Everything == nil || *req.Everything,
		Events:     req.Events,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
	if len(sub.Events) > 0 && req.Everything == nil {
		sub.Everything = false
	}

	// BTCPay-dialect payloads are signed per subscription; the secret is
	// returned once at creation.
	var secret string
	if dialect == webhooks.DialectBTCPay {
		secret = idgen.Secret("whsec_")
		sub.Secret = secret
	}

	ctx := c.Request.Context()
	if err := s.subs.Create(ctx, sub); err != nil {
		logging.L(ctx).Error("webhook creation failed", "owner_id", sub.OwnerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	resp := gin.H{"webhook": sub}
	if secret != "" {
		resp["secret"] = secret
		resp["warning"] = "Save the secret now. It cannot be retrieved again."
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) listWebhooks(c *gin.Context) {
	subs, err := s.subs.ListByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// webhookForOwner loads a subscription and checks it belongs to the
// :ownerId in the URL. Responds on failure and returns nil.
func (s *Server) webhookForOwner(c *gin.Context) *webhooks.Subscription {
	sub, err := s.subs.Get(c.Request.Context(), c.Param("webhookId"))
	if err != nil || sub.OwnerID != c.Param("ownerId") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook not found",
		})
		return nil
	}
	return sub
}

func (s *Server) getWebhook(c *gin.Context) {
	sub := s.webhookForOwner(c)
	if sub == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": sub})
}

func (s *Server) updateWebhook(c *gin.Context) {
	sub := s.webhookForOwner(c)
	if sub == nil {
		return
	}

	var req updateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if req.URL != "" {
		if err := security.ValidateEndpointURL(req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_url",
				"message": err.Error(),
			})
			return
		}
		sub.URL = req.URL
	}
	if req.Everything != nil {
		sub.Everything = *req.Everything
	}
	if req.Events != nil {
		sub.Events = req.Events
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}

	if err := s.subs.Update(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "update_failed",
			"message": "Failed to update webhook",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhook": sub})
}

func (s *Server) deleteWebhook(c *gin.Context) {
	sub := s.webhookForOwner(c)
	if sub == nil {
		return
	}

	if err := s.subs.Delete(c.Request.Context(), sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": sub.ID})
}

// listDeliveries returns the delivery log for an invoice the caller owns.
func (s *Server) listDeliveries(c *gin.Context) {
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

	recs, err := s.deliveries.ListByInvoice(ctx, inv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list deliveries",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deliveries": recs,
		"count":      len(recs),
	})
}

// redeliverWebhook replays a recorded delivery with the invoice's current
// state.
func (s *Server) redeliverWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	rec, err := s.deliveries.Get(ctx, c.Param("deliveryId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Delivery not found",
		})
		return
	}

	inv, err := s.invoices.Get(ctx, rec.InvoiceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Invoice for delivery not found",
		})
		return
	}
	if auth.AuthenticatedOwner(c) != inv.OwnerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Delivery belongs to a different owner",
		})
		return
	}

	own, err := s.owners.Get(ctx, inv.OwnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "redeliver_failed",
			"message": "Failed to load owner",
		})
		return
	}

	if err := s.dispatcher.Redeliver(ctx, rec.ID, inv, own); err != nil {
		logging.L(ctx).Warn("redelivery failed", "delivery_id", rec.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "redeliver_failed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"redelivered": rec.ID})
}
