// Package gateway pools monero-wallet-rpc backends behind a single interface.
//
// A wallet-rpc process holds at most one wallet open at a time, so every
// merchant wallet is pinned to one backend by hashing its wallet name. The
// gateway serializes calls per backend, opens the right wallet on demand,
// and provisions view-only wallet files the first time a merchant's keys
// are seen.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/mbd888/xmrcheckout/internal/walletrpc"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNoBackends         = errors.New("gateway: no wallet RPC backends configured")
	ErrBackendUnreachable = errors.New("gateway: wallet RPC backend unreachable")
	ErrDaemonUnreachable  = errors.New("gateway: wallet RPC has no daemon connection")
	ErrProtocol           = errors.New("gateway: unexpected wallet RPC behavior")
)

// ConflictError reports that a wallet file on the backend clashes with the
// keys we tried to use for it. Not retryable without operator intervention.
type ConflictError struct {
	WalletName string
	Backend    string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("gateway: wallet %q conflicts on backend %s: %v", e.WalletName, e.Backend, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Wallet RPC reports failures by message substring, not stable codes.
const (
	markerKeysMismatch = "wallet_files_doesnt_correspond"
	markerFileExists   = "file_exists"
	markerFileMissing  = "failed to open wallet"
	markerNoDaemon     = "no connection to daemon"
	markerNoDaemonAlt  = "no_connection_to_daemon"
)

// -----------------------------------------------------------------------------
// Interfaces - for testability and flexibility
// -----------------------------------------------------------------------------

// WalletGateway is the surface the reconciler and address allocator consume.
type WalletGateway interface {
	CreateSubaddress(ctx context.Context, sess Session, account uint32, label string) (string, uint32, error)
	SubaddressIndex(ctx context.Context, sess Session, address string) (uint32, uint32, error)
	IncomingTransfers(ctx context.Context, sess Session, q TransferQuery) ([]walletrpc.Transfer, error)
	Flush(ctx context.Context, sess Session) error
	Status(ctx context.Context) Status
	DaemonHeight(ctx context.Context) uint64
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Session identifies one merchant wallet. The gateway derives the wallet
// file name deterministically, so any instance resolves the same keys to
// the same file on the same backend.
type Session struct {
	UserID         string
	PrimaryAddress string
	ViewKey        string
	RestoreHeight  uint64
}

// WalletName returns the wallet file name for this session:
// user-<id>-<first 12 hex chars of sha256(address:viewkey)>. The digest
// suffix makes a key rotation land in a fresh file instead of colliding
// with the old one.
func (s Session) WalletName() string {
	sum := sha256.Sum256([]byte(s.PrimaryAddress + ":" + s.ViewKey))
	return fmt.Sprintf("user-%s-%s", s.UserID, hex.EncodeToString(sum[:])[:12])
}

// TransferQuery narrows an incoming-transfer listing.
type TransferQuery struct {
	Account        uint32
	SubaddrIndices []uint32
	MinHeight      uint64
	IncludePool    bool
}

// Status is a point-in-time health snapshot of the pool.
type Status struct {
	Backends     []BackendStatus
	DaemonHeight uint64
}

type BackendStatus struct {
	Endpoint  string
	Reachable bool
	Version   uint32
}

// Healthy reports whether every backend answered its version probe.
func (s Status) Healthy() bool {
	if len(s.Backends) == 0 {
		return false
	}
	for _, b := range s.Backends {
		if !b.Reachable {
			return false
		}
	}
	return true
}

// Config for creating a pool.
type Config struct {
	// RPCURLs lists the wallet RPC backends. Order matters: routing is
	// positional, so all instances must agree on it.
	RPCURLs  []string
	User     string
	Password string

	// WalletPassword encrypts provisioned wallet files at rest.
	WalletPassword string

	// DaemonURL is bound to each provisioned wallet via set_daemon.
	DaemonURL string
}

func (c Config) validate() error {
	if len(c.RPCURLs) == 0 {
		return ErrNoBackends
	}
	return nil
}

// Option configures the pool.
type Option func(*Pool)

// WithClients injects pre-built RPC clients, one per backend (useful for
// testing). Overrides Config.RPCURLs for client construction but not for
// endpoint naming.
func WithClients(clients []*walletrpc.Client) Option {
	return func(p *Pool) {
		p.backends = p.backends[:0]
		for _, c := range clients {
			p.backends = append(p.backends, &backend{client: c})
		}
	}
}

type backend struct {
	client *walletrpc.Client

	mu   sync.Mutex // serializes RPC use; wallet-rpc is single-session
	open string     // wallet name currently open, "" if unknown
}

// Pool routes wallet sessions across a fixed set of wallet RPC backends.
type Pool struct {
	cfg      Config
	backends []*backend
	daemon   *daemonProbe
}

// Compile-time interface check
var _ WalletGateway = (*Pool)(nil)

// New creates a pool from config.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:    cfg,
		daemon: newDaemonProbe(cfg.DaemonURL),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.backends) == 0 {
		for _, u := range cfg.RPCURLs {
			p.backends = append(p.backends, &backend{
				client: walletrpc.New(u, cfg.User, cfg.Password),
			})
		}
	}
	return p, nil
}

// backendFor picks the backend a wallet is pinned to. Stable for a given
// wallet name and pool size.
func (p *Pool) backendFor(walletName string) *backend {
	sum := sha256.Sum256([]byte(walletName))
	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(len(p.backends))
	return p.backends[idx]
}

// -----------------------------------------------------------------------------
// Session management
// -----------------------------------------------------------------------------

// withWallet runs fn against the session's backend with the right wallet
// open, provisioning the wallet file on first use.
func (p *Pool) withWallet(ctx context.Context, sess Session, fn func(*walletrpc.Client) error) error {
	b := p.backendFor(sess.WalletName())
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := p.ensureOpen(ctx, b, sess); err != nil {
		return err
	}
	if err := fn(b.client); err != nil {
		return p.classify(b, sess, err)
	}
	return nil
}

func (p *Pool) ensureOpen(ctx context.Context, b *backend, sess Session) error {
	name := sess.WalletName()
	if b.open == name {
		return nil
	}

	err := b.client.OpenWallet(ctx, name, p.cfg.WalletPassword)
	if err == nil {
		b.open = name
		gwWalletOpens.WithLabelValues("open").Inc()
		return nil
	}

	var rpcErr *walletrpc.RPCError
	if !errors.As(err, &rpcErr) {
		b.open = ""
		return p.classify(b, sess, err)
	}
	switch {
	case rpcErr.HasMarker(markerKeysMismatch):
		// A file with this name exists but was built from different keys.
		b.open = ""
		gwWalletOpens.WithLabelValues("conflict").Inc()
		return &ConflictError{WalletName: name, Backend: b.client.Endpoint(), Err: err}
	case rpcErr.HasMarker(markerFileMissing):
		return p.provision(ctx, b, sess)
	default:
		b.open = ""
		return p.classify(b, sess, err)
	}
}

// provision creates a view-only wallet file from the session's keys and
// binds it to the daemon. generate_from_keys leaves the new wallet open.
func (p *Pool) provision(ctx context.Context, b *backend, sess Session) error {
	name := sess.WalletName()
	_, err := b.client.GenerateFromKeys(ctx, walletrpc.GenerateFromKeysParams{
		Filename:      name,
		Address:       sess.PrimaryAddress,
		ViewKey:       sess.ViewKey,
		Password:      p.cfg.WalletPassword,
		RestoreHeight: sess.RestoreHeight,
	})
	if err != nil {
		b.open = ""
		var rpcErr *walletrpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.HasMarker(markerFileExists) {
			// Lost a provisioning race, or open_wallet lied about the file
			// being absent. Retry the open once; a second miss is a conflict.
			if openErr := b.client.OpenWallet(ctx, name, p.cfg.WalletPassword); openErr == nil {
				b.open = name
				gwWalletOpens.WithLabelValues("open").Inc()
				return nil
			}
			gwWalletOpens.WithLabelValues("conflict").Inc()
			return &ConflictError{WalletName: name, Backend: b.client.Endpoint(), Err: err}
		}
		return p.classify(b, sess, err)
	}
	b.open = name
	gwWalletOpens.WithLabelValues("provision").Inc()

	if p.cfg.DaemonURL != "" {
		if err := b.client.SetDaemon(ctx, p.cfg.DaemonURL, true); err != nil {
			return p.classify(b, sess, err)
		}
	}
	return nil
}

// classify maps raw client errors onto the gateway taxonomy.
func (p *Pool) classify(b *backend, sess Session, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, walletrpc.ErrUnreachable):
		b.open = "" // backend may have restarted with no wallet open
		gwBackendErrors.WithLabelValues(b.client.Endpoint(), "unreachable").Inc()
		return fmt.Errorf("%w: %s: %v", ErrBackendUnreachable, b.client.Endpoint(), err)
	case errors.Is(err, walletrpc.ErrBadResponse):
		gwBackendErrors.WithLabelValues(b.client.Endpoint(), "protocol").Inc()
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var rpcErr *walletrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.HasMarker(markerNoDaemon) || rpcErr.HasMarker(markerNoDaemonAlt) {
			gwBackendErrors.WithLabelValues(b.client.Endpoint(), "no_daemon").Inc()
			return fmt.Errorf("%w: wallet %s: %v", ErrDaemonUnreachable, sess.WalletName(), err)
		}
		gwBackendErrors.WithLabelValues(b.client.Endpoint(), "rpc").Inc()
		return err
	}
	return err
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// CreateSubaddress allocates the next subaddress in the wallet's account
// and returns the address string with its minor index.
func (p *Pool) CreateSubaddress(ctx context.Context, sess Session, account uint32, label string) (string, uint32, error) {
	var out walletrpc.CreateAddressResult
	err := p.withWallet(ctx, sess, func(c *walletrpc.Client) error {
		var callErr error
		out, callErr = c.CreateAddress(ctx, walletrpc.CreateAddressParams{
			AccountIndex: account,
			Label:        label,
		})
		return callErr
	})
	if err != nil {
		return "", 0, err
	}
	if out.Address == "" {
		return "", 0, fmt.Errorf("%w: create_address returned empty address", ErrProtocol)
	}
	return out.Address, out.AddressIndex, nil
}

// SubaddressIndex resolves a subaddress string to its (account, index)
// pair within the session's wallet.
func (p *Pool) SubaddressIndex(ctx context.Context, sess Session, address string) (uint32, uint32, error) {
	var out walletrpc.AddressIndex
	err := p.withWallet(ctx, sess, func(c *walletrpc.Client) error {
		var callErr error
		out, callErr = c.GetAddressIndex(ctx, address)
		return callErr
	})
	if err != nil {
		return 0, 0, err
	}
	return out.Major, out.Minor, nil
}

// IncomingTransfers lists confirmed transfers for the session's wallet,
// plus mempool transfers when the query asks for them. Confirmed and pool
// entries come back in one slice; callers distinguish them by the Type
// field ("in" vs "pool").
func (p *Pool) IncomingTransfers(ctx context.Context, sess Session, q TransferQuery) ([]walletrpc.Transfer, error) {
	var out walletrpc.GetTransfersResult
	err := p.withWallet(ctx, sess, func(c *walletrpc.Client) error {
		var callErr error
		out, callErr = c.GetTransfers(ctx, walletrpc.GetTransfersParams{
			In:             true,
			Pool:           q.IncludePool,
			FilterByHeight: q.MinHeight > 0,
			MinHeight:      q.MinHeight,
			AccountIndex:   q.Account,
			SubaddrIndices: q.SubaddrIndices,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	transfers := make([]walletrpc.Transfer, 0, len(out.In)+len(out.Pool))
	for _, t := range out.In {
		if t.Type == "" {
			t.Type = "in"
		}
		transfers = append(transfers, t)
	}
	for _, t := range out.Pool {
		if t.Type == "" {
			t.Type = "pool"
		}
		transfers = append(transfers, t)
	}
	gwTransfersListed.Add(float64(len(transfers)))
	return transfers, nil
}

// Flush persists the session's wallet state to disk.
func (p *Pool) Flush(ctx context.Context, sess Session) error {
	return p.withWallet(ctx, sess, func(c *walletrpc.Client) error {
		return c.Store(ctx)
	})
}

// Status probes every backend with get_version and the daemon with its
// height endpoint. Probes are bounded; a down backend just reads as
// unreachable in the snapshot.
func (p *Pool) Status(ctx context.Context) Status {
	st := Status{Backends: make([]BackendStatus, len(p.backends))}
	for i, b := range p.backends {
		bs := BackendStatus{Endpoint: b.client.Endpoint()}
		probeCtx, cancel := context.WithTimeout(ctx, walletrpc.DefaultTimeout)
		if v, err := b.client.GetVersion(probeCtx); err == nil {
			bs.Reachable = true
			bs.Version = v.Version
		}
		cancel()
		st.Backends[i] = bs
	}
	st.DaemonHeight = p.daemon.Height(ctx)
	return st
}

// DaemonHeight returns the daemon's current chain height, or 0 when the
// daemon is unreachable.
func (p *Pool) DaemonHeight(ctx context.Context) uint64 {
	return p.daemon.Height(ctx)
}

// CloseAll closes whatever wallet each backend has open. Used on shutdown
// so wallet files are released cleanly.
func (p *Pool) CloseAll(ctx context.Context) {
	for _, b := range p.backends {
		b.mu.Lock()
		if b.open != "" {
			closeCtx, cancel := context.WithTimeout(ctx, walletrpc.DefaultTimeout)
			_ = b.client.CloseWallet(closeCtx)
			cancel()
			b.open = ""
		}
		b.mu.Unlock()
	}
}
