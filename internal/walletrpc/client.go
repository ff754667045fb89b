// Package walletrpc is a minimal JSON-RPC 2.0 client for monero-wallet-rpc.
//
// Each client talks to one wallet-rpc process. The process holds at most one
// wallet open at a time; session management on top of that lives in the
// gateway package, not here.
package walletrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrUnreachable = errors.New("walletrpc: wallet RPC is unreachable")
	ErrBadResponse = errors.New("walletrpc: malformed RPC response")
)

// RPCError is an error object returned by the wallet RPC itself.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("walletrpc: %s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// HasMarker reports whether the error message carries the given marker,
// case insensitively. Wallet RPC errors are distinguished by substring
// markers (e.g. "no connection to daemon"), not stable codes.
func (e *RPCError) HasMarker(marker string) bool {
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(marker))
}

// DefaultTimeout bounds every RPC round trip.
const DefaultTimeout = 5 * time.Second

// Client calls a single monero-wallet-rpc endpoint.
type Client struct {
	endpoint string
	httpc    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// New creates a client for the given wallet RPC base URL. When user and
// password are set, requests authenticate with HTTP digest, which is what
// monero-wallet-rpc speaks when started with --rpc-login.
func New(rawURL, user, password string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(rawURL, "/") + "/json_rpc",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpc == nil {
		var transport http.RoundTripper
		if user != "" && password != "" {
			transport = &digest.Transport{Username: user, Password: password}
		}
		c.httpc = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		}
	}
	return c
}

// Endpoint returns the JSON-RPC URL this client targets.
func (c *Client) Endpoint() string { return c.endpoint }

type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs one JSON-RPC round trip. Network-level failures map to
// ErrUnreachable; RPC-level failures map to *RPCError. When result is
// non-nil the response result object is unmarshalled into it.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{Version: "2.0", ID: "0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("walletrpc: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("walletrpc: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: HTTP %d", ErrUnreachable, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadResponse, method, err)
	}
	if decoded.Error != nil {
		return &RPCError{Method: method, Code: decoded.Error.Code, Message: decoded.Error.Message}
	}
	if result != nil && decoded.Result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadResponse, method, err)
		}
	}
	return nil
}
