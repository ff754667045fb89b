package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/xmrcheckout/internal/config"
	"github.com/mbd888/xmrcheckout/internal/gateway"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testPrimary = "47amuC2vcerCUiy1pSB8tZUE1AJVTzXCxXAcq7gXnPojE1aqDahkJVoNu2rAHYQ4GkEtkyHnyCARA9HaUCzPXtgAEMTyF1K"
	testViewKey = "bfe75fadf079b089faeca6e07f14432673c4b9de7ef577d3dc2bc7713132f701"
)

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		WalletRPCURLs:        []string{"http://127.0.0.1:18083/json_rpc"},
		ReconcileInterval:    30,
		LatePaymentLookback:  24,
		DefaultExpiryHours:   24,
		MaxSubaddressIndex:   100000,
		DefaultConfirmations: 10,
	}
}

// newTestServer creates a server with in-memory stores and an unused
// wallet pool (the gateway is never dialed by these tests)
func newTestServer(t *testing.T) *Server {
	t.Helper()
	pool, err := gateway.New(gateway.Config{
		RPCURLs: []string{"http://127.0.0.1:18083/json_rpc"},
	})
	if err != nil {
		t.Fatalf("Failed to create gateway: %v", err)
	}
	s, err := New(testConfig(), WithGateway(pool))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// registerTestOwner registers an owner and returns its ID and API key
func registerTestOwner(t *testing.T, s *Server) (ownerID, apiKey string) {
	t.Helper()

	body := `{"email":"merchant@example.com","primary_address":"` + testPrimary + `","view_key":"` + testViewKey + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Registration failed: %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Owner struct {
			ID string `json:"id"`
		} `json:"owner"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return resp.Owner.ID, resp.APIKey
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestHealthEndpointUnreachableBackend(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	// No wallet RPC is listening in tests, so the check must fail
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}

	var resp struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Healthy {
		t.Error("Expected healthy=false with unreachable wallet RPC")
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"POST:/v1/owners",
		"GET:/v1/invoices/:invoiceId",
		"POST:/v1/owners/:ownerId/invoices",
		"GET:/v1/owners/:ownerId/invoices",
		"POST:/v1/invoices/:invoiceId/invalidate",
		"GET:/v1/invoices/:invoiceId/deliveries",
		"POST:/v1/deliveries/:deliveryId/redeliver",
		"POST:/v1/owners/:ownerId/webhooks",
		"GET:/v1/owners/:ownerId/webhooks",
		"PUT:/v1/owners/:ownerId/webhooks/:webhookId",
		"DELETE:/v1/owners/:ownerId/webhooks/:webhookId",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Owner registration tests
// ---------------------------------------------------------------------------

func TestOwnerRegistration(t *testing.T) {
	s := newTestServer(t)

	ownerID, apiKey := registerTestOwner(t, s)

	if !strings.HasPrefix(ownerID, "own_") {
		t.Errorf("Expected owner ID with own_ prefix, got %q", ownerID)
	}
	if !strings.HasPrefix(apiKey, "sk_") {
		t.Errorf("Expected API key with sk_ prefix, got %q", apiKey)
	}
}

func TestOwnerRegistrationRejectsSubaddress(t *testing.T) {
	s := newTestServer(t)

	// 8-prefixed subaddresses cannot anchor derivation
	sub := "87jQp3wy7Q6hRLLf8xyqDZ7sHCBFGDbzLfaAMq3yhoDvPt4j3LZcD8X37PSJyP2W5EBnFJqtP6pgnizPZDhhQr5YNwsYqkx"
	body := `{"email":"m@example.com","primary_address":"` + sub + `","view_key":"` + testViewKey + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for subaddress registration, got %d", w.Code)
	}
}

func TestOwnerRegistrationRejectsBadViewKey(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"m@example.com","primary_address":"` + testPrimary + `","view_key":"nothex"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad view key, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Invoice tests
// ---------------------------------------------------------------------------

func createTestInvoice(t *testing.T, s *Server, ownerID, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners/"+ownerID+"/invoices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w, req)
	return w
}

func TestInvoiceCreation(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	w := createTestInvoice(t, s, ownerID, apiKey, `{"amount_xmr":"1.5","description":"test order"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Invoice struct {
			ID         string `json:"id"`
			Address    string `json:"address"`
			Status     string `json:"status"`
			PaymentURI string `json:"payment_uri"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if !strings.HasPrefix(resp.Invoice.ID, "inv_") {
		t.Errorf("Expected invoice ID with inv_ prefix, got %q", resp.Invoice.ID)
	}
	if resp.Invoice.Status != "pending" {
		t.Errorf("Expected pending status, got %q", resp.Invoice.Status)
	}
	// Derived subaddresses start with 8 on mainnet
	if !strings.HasPrefix(resp.Invoice.Address, "8") {
		t.Errorf("Expected a derived subaddress, got %q", resp.Invoice.Address)
	}
	if !strings.HasPrefix(resp.Invoice.PaymentURI, "monero:"+resp.Invoice.Address) {
		t.Errorf("Payment URI does not reference the invoice address: %q", resp.Invoice.PaymentURI)
	}
	if !strings.Contains(resp.Invoice.PaymentURI, "tx_amount=1.5") {
		t.Errorf("Payment URI missing amount: %q", resp.Invoice.PaymentURI)
	}
}

func TestInvoiceCreationUniqueAddresses(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		w := createTestInvoice(t, s, ownerID, apiKey, `{"amount_xmr":"0.1"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			Invoice struct {
				Address string `json:"address"`
			} `json:"invoice"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if seen[resp.Invoice.Address] {
			t.Fatalf("Address %s issued twice", resp.Invoice.Address)
		}
		seen[resp.Invoice.Address] = true
	}
}

func TestInvoiceCreationRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	ownerID, _ := registerTestOwner(t, s)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners/"+ownerID+"/invoices", strings.NewReader(`{"amount_xmr":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestInvoiceCreationWrongOwner(t *testing.T) {
	s := newTestServer(t)
	ownerID, _ := registerTestOwner(t, s)
	_, otherKey := registerTestOwner(t, s)

	w := createTestInvoice(t, s, ownerID, otherKey, `{"amount_xmr":"1"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with another owner's key, got %d", w.Code)
	}
}

func TestInvoiceCreationAmountValidation(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	cases := []string{
		`{}`,
		`{"amount_xmr":"-1"}`,
		`{"amount_xmr":"0"}`,
		`{"amount_xmr":"abc"}`,
		`{"amount_xmr":"1","fiat":{"amount":"10","currency":"usd"}}`,
	}
	for _, body := range cases {
		w := createTestInvoice(t, s, ownerID, apiKey, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestInvoicePublicCheckoutView(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	w := createTestInvoice(t, s, ownerID, apiKey, `{"amount_xmr":"2"}`)
	var created struct {
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	// No auth header: buyers poll this from the checkout page
	w2 := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/invoices/"+created.Invoice.ID, nil)
	s.router.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 for public invoice view, got %d", w2.Code)
	}
}

func TestInvoiceInvalidation(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	w := createTestInvoice(t, s, ownerID, apiKey, `{"amount_xmr":"1"}`)
	var created struct {
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/invoices/"+created.Invoice.ID+"/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w2.Code, w2.Body.String())
	}

	// A second invalidation hits a terminal status
	w3 := httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/invoices/"+created.Invoice.ID+"/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w3, req)

	if w3.Code != http.StatusConflict {
		t.Errorf("Expected 409 for repeat invalidation, got %d", w3.Code)
	}
}

func TestInvoiceInvalidationWrongOwner(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)
	_, otherKey := registerTestOwner(t, s)

	w := createTestInvoice(t, s, ownerID, apiKey, `{"amount_xmr":"1"}`)
	var created struct {
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/invoices/"+created.Invoice.ID+"/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+otherKey)
	s.router.ServeHTTP(w2, req)

	if w2.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with another owner's key, got %d", w2.Code)
	}
}

// ---------------------------------------------------------------------------
// Webhook subscription tests
// ---------------------------------------------------------------------------

func TestWebhookLifecycle(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	// Create (IP literal so validation does not need DNS)
	body := `{"url":"http://203.0.113.10/hooks","events":["invoice.confirmed"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners/"+ownerID+"/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Webhook struct {
			ID         string `json:"id"`
			Everything bool   `json:"everything"`
		} `json:"webhook"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if created.Webhook.Everything {
		t.Error("Expected everything=false when an event list is given")
	}

	// Update: disable
	w2 := httptest.NewRecorder()
	req = httptest.NewRequest("PUT", "/v1/owners/"+ownerID+"/webhooks/"+created.Webhook.ID, strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d: %s", w2.Code, w2.Body.String())
	}

	// Delete
	w3 := httptest.NewRecorder()
	req = httptest.NewRequest("DELETE", "/v1/owners/"+ownerID+"/webhooks/"+created.Webhook.ID, nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w3, req)

	if w3.Code != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", w3.Code)
	}

	// Gone
	w4 := httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/owners/"+ownerID+"/webhooks/"+created.Webhook.ID, nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w4, req)

	if w4.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w4.Code)
	}
}

func TestWebhookBTCPayDialectReturnsSecret(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	body := `{"url":"http://203.0.113.10/btcpay","dialect":"btcpay"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/owners/"+ownerID+"/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !strings.HasPrefix(resp.Secret, "whsec_") {
		t.Errorf("Expected whsec_ secret for btcpay dialect, got %q", resp.Secret)
	}
}

func TestWebhookRejectsBadURL(t *testing.T) {
	s := newTestServer(t)
	ownerID, apiKey := registerTestOwner(t, s)

	for _, u := range []string{"ftp://203.0.113.10", "not-a-url", "http://169.254.169.254/latest", "http://127.0.0.1:8080/hook"} {
		body := `{"url":"` + u + `"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/owners/"+ownerID+"/webhooks", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)
		s.router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for URL %q, got %d", u, w.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
