package walletrpc

import "context"

// Wallet RPC request/response shapes for the subset of methods the gateway
// drives. Field names match the monero-wallet-rpc wire format.

type VersionResult struct {
	Version uint32 `json:"version"`
}

// GetVersion is the cheapest liveness probe the wallet RPC offers.
func (c *Client) GetVersion(ctx context.Context) (VersionResult, error) {
	var out VersionResult
	err := c.Call(ctx, "get_version", nil, &out)
	return out, err
}

type SetDaemonParams struct {
	Address string `json:"address"`
	Trusted bool   `json:"trusted"`
}

// SetDaemon points the wallet RPC process at a monerod instance.
func (c *Client) SetDaemon(ctx context.Context, address string, trusted bool) error {
	return c.Call(ctx, "set_daemon", SetDaemonParams{Address: address, Trusted: trusted}, nil)
}

type OpenWalletParams struct {
	Filename string `json:"filename"`
	Password string `json:"password"`
}

// OpenWallet opens a wallet file by name, closing whatever was open before.
func (c *Client) OpenWallet(ctx context.Context, filename, password string) error {
	return c.Call(ctx, "open_wallet", OpenWalletParams{Filename: filename, Password: password}, nil)
}

// CloseWallet closes the currently open wallet, if any.
func (c *Client) CloseWallet(ctx context.Context) error {
	return c.Call(ctx, "close_wallet", nil, nil)
}

type GenerateFromKeysParams struct {
	Filename      string `json:"filename"`
	Address       string `json:"address"`
	ViewKey       string `json:"viewkey"`
	Password      string `json:"password"`
	RestoreHeight uint64 `json:"restore_height"`
}

type GenerateFromKeysResult struct {
	Address string `json:"address"`
	Info    string `json:"info"`
}

// GenerateFromKeys creates a view-only wallet file from an address and
// private view key, and leaves it open.
func (c *Client) GenerateFromKeys(ctx context.Context, p GenerateFromKeysParams) (GenerateFromKeysResult, error) {
	var out GenerateFromKeysResult
	err := c.Call(ctx, "generate_from_keys", p, &out)
	return out, err
}

type CreateAddressParams struct {
	AccountIndex uint32 `json:"account_index"`
	Label        string `json:"label,omitempty"`
}

type CreateAddressResult struct {
	Address      string `json:"address"`
	AddressIndex uint32 `json:"address_index"`
}

// CreateAddress allocates the next subaddress in the given account.
func (c *Client) CreateAddress(ctx context.Context, p CreateAddressParams) (CreateAddressResult, error) {
	var out CreateAddressResult
	err := c.Call(ctx, "create_address", p, &out)
	return out, err
}

type AddressIndex struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

type getAddressIndexParams struct {
	Address string `json:"address"`
}

type getAddressIndexResult struct {
	Index AddressIndex `json:"index"`
}

// GetAddressIndex resolves a subaddress string to its (account, index) pair
// within the open wallet.
func (c *Client) GetAddressIndex(ctx context.Context, address string) (AddressIndex, error) {
	var out getAddressIndexResult
	err := c.Call(ctx, "get_address_index", getAddressIndexParams{Address: address}, &out)
	return out.Index, err
}

type GetTransfersParams struct {
	In             bool     `json:"in"`
	Pool           bool     `json:"pool"`
	FilterByHeight bool     `json:"filter_by_height,omitempty"`
	MinHeight      uint64   `json:"min_height,omitempty"`
	AccountIndex   uint32   `json:"account_index"`
	SubaddrIndices []uint32 `json:"subaddr_indices,omitempty"`
}

// Transfer is one incoming transfer as reported by the wallet RPC. Amounts
// are atomic units (piconero).
type Transfer struct {
	TxID          string `json:"txid"`
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	Height        uint64 `json:"height"`
	Timestamp     uint64 `json:"timestamp"`
	UnlockTime    uint64 `json:"unlock_time"`
	DoubleSpend   bool   `json:"double_spend_seen"`
	Type          string `json:"type"`
	SubaddrIndex  AddressIndex `json:"subaddr_index"`
}

type GetTransfersResult struct {
	In   []Transfer `json:"in"`
	Pool []Transfer `json:"pool"`
}

// GetTransfers lists confirmed and mempool incoming transfers for the open
// wallet, optionally narrowed to specific subaddress indices.
func (c *Client) GetTransfers(ctx context.Context, p GetTransfersParams) (GetTransfersResult, error) {
	var out GetTransfersResult
	err := c.Call(ctx, "get_transfers", p, &out)
	return out, err
}

// Store flushes the open wallet's state to disk.
func (c *Client) Store(ctx context.Context) error {
	return c.Call(ctx, "store", nil, nil)
}
