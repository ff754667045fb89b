package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const daemonProbeTimeout = 5 * time.Second

// daemonProbe asks monerod for its chain height. Newer daemons answer the
// JSON-RPC get_height method; older ones only expose the bare /get_height
// endpoint, so we fall back to that.
type daemonProbe struct {
	baseURL string
	httpc   *http.Client
}

func newDaemonProbe(daemonURL string) *daemonProbe {
	return &daemonProbe{
		baseURL: strings.TrimRight(daemonURL, "/"),
		httpc:   &http.Client{Timeout: daemonProbeTimeout},
	}
}

type heightResult struct {
	Height uint64 `json:"height"`
}

// Height returns the daemon's chain height, or 0 when the daemon cannot
// be reached either way.
func (d *daemonProbe) Height(ctx context.Context) uint64 {
	if d.baseURL == "" {
		return 0
	}
	if h, ok := d.heightJSONRPC(ctx); ok {
		return h
	}
	if h, ok := d.heightREST(ctx); ok {
		return h
	}
	gwDaemonProbeFailures.Inc()
	return 0
}

func (d *daemonProbe) heightJSONRPC(ctx context.Context) (uint64, bool) {
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "0", "method": "get_height",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/json_rpc", bytes.NewReader(body))
	if err != nil {
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var decoded struct {
		Result *heightResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.Result == nil {
		return 0, false
	}
	return decoded.Result.Height, decoded.Result.Height > 0
}

func (d *daemonProbe) heightREST(ctx context.Context) (uint64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/get_height", nil)
	if err != nil {
		return 0, false
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var decoded heightResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, false
	}
	return decoded.Height, decoded.Height > 0
}
