package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mbd888/xmrcheckout/internal/walletrpc"
)

// fakeBackend simulates one monero-wallet-rpc process: a set of wallet
// files on disk, at most one open at a time.
type fakeBackend struct {
	mu           sync.Mutex
	files        map[string]string // wallet name -> "address:viewkey" it was generated from
	open         string
	calls        []string
	noDaemon     bool
	keysMismatch bool
	transfers    walletrpc.GetTransfersResult
	nextMinor    uint32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: map[string]string{}, nextMinor: 1}
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, req.Method)

		fail := func(code int, msg string) {
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": "0",
				"error": map[string]any{"code": code, "message": msg},
			})
		}
		ok := func(result any) {
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": "0", "result": result,
			})
		}

		switch req.Method {
		case "get_version":
			ok(map[string]any{"version": 65562})
		case "open_wallet":
			var p walletrpc.OpenWalletParams
			json.Unmarshal(req.Params, &p)
			if _, exists := f.files[p.Filename]; !exists {
				fail(-1, "Failed to open wallet")
				return
			}
			if f.keysMismatch {
				fail(-1, "Wallet files doesn't correspond: wallet_files_doesnt_correspond")
				return
			}
			f.open = p.Filename
			ok(map[string]any{})
		case "generate_from_keys":
			var p walletrpc.GenerateFromKeysParams
			json.Unmarshal(req.Params, &p)
			if _, exists := f.files[p.Filename]; exists {
				fail(-21, "Wallet already exists: file_exists")
				return
			}
			f.files[p.Filename] = p.Address + ":" + p.ViewKey
			f.open = p.Filename
			ok(map[string]any{"address": p.Address, "info": "Wallet has been generated"})
		case "set_daemon":
			ok(map[string]any{})
		case "create_address":
			if f.open == "" {
				fail(-13, "No wallet file")
				return
			}
			minor := f.nextMinor
			f.nextMinor++
			ok(map[string]any{
				"address":       fmt.Sprintf("8sub%s-%d", f.open, minor),
				"address_index": minor,
			})
		case "get_transfers":
			if f.noDaemon {
				fail(-1, "no_connection_to_daemon")
				return
			}
			ok(f.transfers)
		case "store", "close_wallet":
			ok(map[string]any{})
		default:
			t.Errorf("unexpected method %s", req.Method)
			fail(-32601, "Method not found")
		}
	})
}

func (f *fakeBackend) methodCalls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func newTestPool(t *testing.T, n int) (*Pool, []*fakeBackend) {
	t.Helper()
	fakes := make([]*fakeBackend, n)
	urls := make([]string, n)
	for i := range fakes {
		fakes[i] = newFakeBackend()
		srv := httptest.NewServer(fakes[i].handler(t))
		t.Cleanup(srv.Close)
		urls[i] = srv.URL
	}
	p, err := New(Config{RPCURLs: urls, WalletPassword: "pw", DaemonURL: ""})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, fakes
}

func testSession() Session {
	return Session{
		UserID:         "42",
		PrimaryAddress: "47amuC2primary",
		ViewKey:        "bfe75fadf079b089faeca6e07f14432673c4b9de7ef577d3dc2bc7713132f701",
	}
}

func TestWalletName(t *testing.T) {
	s := testSession()
	name := s.WalletName()
	if len(name) != len("user-42-")+12 {
		t.Errorf("name = %q, want user-42- plus 12 hex chars", name)
	}
	if name != s.WalletName() {
		t.Error("wallet name must be deterministic")
	}

	rotated := s
	rotated.ViewKey = "0000000000000000000000000000000000000000000000000000000000000000"
	if rotated.WalletName() == name {
		t.Error("key rotation must produce a different wallet name")
	}
}

func TestProvisionOnFirstUse(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	sess := testSession()

	addr, minor, err := p.CreateSubaddress(context.Background(), sess, 0, "invoice")
	if err != nil {
		t.Fatalf("CreateSubaddress: %v", err)
	}
	if addr == "" || minor != 1 {
		t.Errorf("got addr=%q minor=%d", addr, minor)
	}
	if fakes[0].methodCalls("generate_from_keys") != 1 {
		t.Error("first use should provision via generate_from_keys")
	}

	// Second call reuses the open session: no open, no generate.
	if _, _, err := p.CreateSubaddress(context.Background(), sess, 0, ""); err != nil {
		t.Fatalf("second CreateSubaddress: %v", err)
	}
	if got := fakes[0].methodCalls("open_wallet"); got != 1 {
		t.Errorf("open_wallet called %d times, want 1", got)
	}
	if got := fakes[0].methodCalls("generate_from_keys"); got != 1 {
		t.Errorf("generate_from_keys called %d times, want 1", got)
	}
}

func TestSessionAffinity(t *testing.T) {
	p, fakes := newTestPool(t, 4)
	sess := testSession()

	for i := 0; i < 5; i++ {
		if err := p.Flush(context.Background(), sess); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
	}

	touched := 0
	for _, f := range fakes {
		if len(f.calls) > 0 {
			touched++
		}
	}
	if touched != 1 {
		t.Errorf("session touched %d backends, want exactly 1", touched)
	}
}

func TestExistingFileOpensWithoutProvision(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	sess := testSession()

	// File already on disk, as after a restart or when another instance
	// provisioned it first.
	fakes[0].mu.Lock()
	fakes[0].files[sess.WalletName()] = sess.PrimaryAddress + ":" + sess.ViewKey
	fakes[0].mu.Unlock()

	if err := p.Flush(context.Background(), sess); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fakes[0].methodCalls("generate_from_keys") != 0 {
		t.Error("file already present, generate_from_keys should not run")
	}
}

func TestKeysMismatchIsConflict(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	sess := testSession()

	fakes[0].mu.Lock()
	fakes[0].keysMismatch = true
	fakes[0].files[sess.WalletName()] = "other-keys"
	fakes[0].mu.Unlock()

	err := p.Flush(context.Background(), sess)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want *ConflictError, got %v", err)
	}
	if conflict.WalletName != sess.WalletName() {
		t.Errorf("conflict wallet = %q", conflict.WalletName)
	}
}

func TestDaemonUnreachableClassified(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	fakes[0].noDaemon = true

	_, err := p.IncomingTransfers(context.Background(), testSession(), TransferQuery{IncludePool: true})
	if !errors.Is(err, ErrDaemonUnreachable) {
		t.Fatalf("want ErrDaemonUnreachable, got %v", err)
	}
}

func TestBackendUnreachableClassified(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	p, err := New(Config{RPCURLs: []string{srv.URL}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	flushErr := p.Flush(context.Background(), testSession())
	if !errors.Is(flushErr, ErrBackendUnreachable) {
		t.Fatalf("want ErrBackendUnreachable, got %v", flushErr)
	}
}

func TestIncomingTransfers_MergesPoolAndConfirmed(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	fakes[0].transfers = walletrpc.GetTransfersResult{
		In: []walletrpc.Transfer{
			{TxID: "aa", Amount: 5_000_000_000_000, Confirmations: 12, Type: "in"},
		},
		Pool: []walletrpc.Transfer{
			{TxID: "bb", Amount: 1_000_000_000_000},
		},
	}

	got, err := p.IncomingTransfers(context.Background(), testSession(), TransferQuery{IncludePool: true})
	if err != nil {
		t.Fatalf("IncomingTransfers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transfers, want 2", len(got))
	}
	if got[0].Type != "in" || got[1].Type != "pool" {
		t.Errorf("types = %q, %q", got[0].Type, got[1].Type)
	}
}

func TestStatus(t *testing.T) {
	p, _ := newTestPool(t, 2)
	st := p.Status(context.Background())
	if !st.Healthy() {
		t.Errorf("pool should be healthy: %+v", st)
	}
	if len(st.Backends) != 2 {
		t.Errorf("got %d backends", len(st.Backends))
	}
	for _, b := range st.Backends {
		if b.Version != 65562 {
			t.Errorf("backend version = %d", b.Version)
		}
	}
}

func TestNew_NoBackends(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoBackends) {
		t.Fatalf("want ErrNoBackends, got %v", err)
	}
}
