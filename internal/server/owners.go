package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/xmrcheckout/internal/idgen"
	"github.com/mbd888/xmrcheckout/internal/logging"
	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/validation"
)

type registerOwnerRequest struct {
	Email          string `json:"email" binding:"required"`
	PrimaryAddress string `json:"primary_address" binding:"required"`
	ViewKey        string `json:"view_key" binding:"required"`
	RestoreHeight  uint64 `json:"restore_height"`
}

// registerOwner creates a merchant account. Public, but the response
// carries the owner's API key and webhook secret, shown exactly once.
func (s *Server) registerOwner(c *gin.Context) {
	var req registerOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	req.Email = validation.SanitizeString(req.Email, 254)
	if !validation.IsValidPrimaryAddress(req.PrimaryAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "primary_address must be a standard Monero address (not an integrated address or subaddress)",
		})
		return
	}
	if !validation.IsValidViewKey(req.ViewKey) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_view_key",
			"message": "view_key must be 64 hex characters",
		})
		return
	}

	ctx := c.Request.Context()

	own := &owner.Owner{
		ID:             idgen.WithPrefix("own_"),
		Email:          req.Email,
		PrimaryAddress: req.PrimaryAddress,
		ViewKey:        req.ViewKey,
		RestoreHeight:  req.RestoreHeight,
		WebhookSecret:  idgen.Secret("whsec_"),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.owners.Create(ctx, own); err != nil {
		logging.L(ctx).Error("owner creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to create owner",
		})
		return
	}

	rawKey, _, err := s.authMgr.GenerateKey(ctx, own.ID, "default")
	if err != nil {
		logging.L(ctx).Error("api key generation failed", "owner_id", own.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "creation_failed",
			"message": "Failed to issue API key",
		})
		return
	}

	logging.L(ctx).Info("owner registered", "owner_id", own.ID)

	c.JSON(http.StatusCreated, gin.H{
		"owner":          ownerView(own),
		"api_key":        rawKey,
		"webhook_secret": own.WebhookSecret,
		"warning":        "Save the api_key and webhook_secret now. They cannot be retrieved again.",
	})
}

func (s *Server) getOwner(c *gin.Context) {
	own, err := s.owners.Get(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Owner not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": ownerView(own)})
}

// ownerView shapes an owner for API responses. The view key and webhook
// secret never leave the server after registration.
func ownerView(own *owner.Owner) gin.H {
	return gin.H{
		"id":                    own.ID,
		"email":                 own.Email,
		"primary_address":       own.PrimaryAddress,
		"restore_height":        own.RestoreHeight,
		"last_subaddress_index": own.LastSubaddressIndex,
		"created_at":            own.CreatedAt,
	}
}
