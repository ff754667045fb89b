package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/xmrcheckout/internal/auth"
	"github.com/mbd888/xmrcheckout/internal/metrics"
)

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)

	// Owner registration (public but returns API key)
	v1.POST("/owners", s.registerOwner)

	// Hosted checkout pages poll this; no auth so the buyer's browser can
	// read payment progress with just the invoice ID.
	v1.GET("/invoices/:invoiceId", s.getInvoice)

	// Wallet backend status
	v1.GET("/wallet", s.walletStatusHandler)

	// AUTH INFO (public)
	authHandler := auth.NewHandler(s.authMgr)
	v1.GET("/auth/info", authHandler.Info)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		// API key management
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)
		protected.GET("/auth/me", authHandler.GetCurrentOwner)

		// Invoice mutations resolve ownership through the invoice itself
		protected.POST("/invoices/:invoiceId/invalidate", s.invalidateInvoice)
		protected.GET("/invoices/:invoiceId/deliveries", s.listDeliveries)
		protected.POST("/deliveries/:deliveryId/redeliver", s.redeliverWebhook)

		// Fiat quotes
		protected.GET("/rates/:currency", s.getRate)
	}

	// OWNER-SCOPED ROUTES (must own the :ownerId resource)
	owned := v1.Group("/owners/:ownerId")
	owned.Use(auth.Middleware(s.authMgr), auth.RequireOwnership(s.authMgr, "ownerId"))
	{
		owned.GET("", s.getOwner)

		owned.POST("/invoices", s.createInvoice)
		owned.GET("/invoices", s.listInvoices)

		owned.POST("/webhooks", s.createWebhook)
		owned.GET("/webhooks", s.listWebhooks)
		owned.GET("/webhooks/:webhookId", s.getWebhook)
		owned.PUT("/webhooks/:webhookId", s.updateWebhook)
		owned.DELETE("/webhooks/:webhookId", s.deleteWebhook)
	}
}

// -----------------------------------------------------------------------------
// Health & info handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := http.StatusOK
	if !healthy || !s.healthy.Load() {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"healthy": healthy && s.healthy.Load(),
		"checks":  statuses,
	})
}

// livenessHandler is for k8s liveness probes: is the process alive?
func (s *Server) livenessHandler(c *gin.Context) {
	if s.healthy.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	} else {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
	}
}

// readinessHandler is for k8s readiness probes: can we serve traffic?
func (s *Server) readinessHandler(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	} else {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
	}
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "xmrcheckout",
		"description": "Monero payment processing for merchants",
		"version":     "1.0.0",
		"endpoints": gin.H{
			"health":   "/health",
			"metrics":  "/metrics",
			"register": "POST /v1/owners",
			"invoices": "POST /v1/owners/:ownerId/invoices",
			"checkout": "GET /v1/invoices/:invoiceId",
			"webhooks": "POST /v1/owners/:ownerId/webhooks",
		},
	})
}

func (s *Server) walletStatusHandler(c *gin.Context) {
	st := s.pool.Status(c.Request.Context())

	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
