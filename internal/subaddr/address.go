package subaddr

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// Network identifies the Monero network an address belongs to.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Stagenet
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Stagenet:
		return "stagenet"
	}
	return "unknown"
}

// Kind identifies the flavour of a decoded address.
type Kind int

const (
	KindPrimary Kind = iota
	KindIntegrated
	KindSubaddress
)

// Address network prefix bytes, indexed by Network.
var (
	primaryPrefixes    = [3]byte{18, 53, 24}
	integratedPrefixes = [3]byte{19, 54, 25}
	subaddrPrefixes    = [3]byte{42, 63, 36}
)

const (
	keyLen              = 32
	checksumLen         = 4
	paymentIDLen        = 8
	plainAddressLen     = 1 + 2*keyLen + checksumLen
	integratedAddressLen = plainAddressLen + paymentIDLen
)

var (
	// ErrMalformedAddress reports an address that is not valid base58, has a
	// bad checksum, or carries an unknown network prefix.
	ErrMalformedAddress = errors.New("subaddr: malformed address")
)

// Address is a decoded Monero address.
type Address struct {
	Kind     Kind
	Network  Network
	SpendKey [keyLen]byte
	ViewKey  [keyLen]byte
}

// ParseAddress decodes and validates a base58 Monero address of any kind.
func ParseAddress(encoded string) (*Address, error) {
	raw, err := decodeBase58(encoded)
	if err != nil {
		return nil, ErrMalformedAddress
	}
	if len(raw) != plainAddressLen && len(raw) != integratedAddressLen {
		return nil, ErrMalformedAddress
	}

	payload := raw[:len(raw)-checksumLen]
	checksum := raw[len(raw)-checksumLen:]
	if !bytes.Equal(crypto.Keccak256(payload)[:checksumLen], checksum) {
		return nil, ErrMalformedAddress
	}

	addr := &Address{}
	prefix := payload[0]
	found := false
	for net := 0; net < 3; net++ {
		switch prefix {
		case primaryPrefixes[net]:
			addr.Kind, addr.Network, found = KindPrimary, Network(net), true
		case integratedPrefixes[net]:
			addr.Kind, addr.Network, found = KindIntegrated, Network(net), true
		case subaddrPrefixes[net]:
			addr.Kind, addr.Network, found = KindSubaddress, Network(net), true
		}
		if found {
			break
		}
	}
	if !found {
		return nil, ErrMalformedAddress
	}
	if addr.Kind == KindIntegrated && len(raw) != integratedAddressLen {
		return nil, ErrMalformedAddress
	}
	if addr.Kind != KindIntegrated && len(raw) != plainAddressLen {
		return nil, ErrMalformedAddress
	}

	copy(addr.SpendKey[:], payload[1:1+keyLen])
	copy(addr.ViewKey[:], payload[1+keyLen:1+2*keyLen])
	return addr, nil
}

// encodeWithChecksum assembles prefix||keys, appends the 4-byte Keccak-256
// checksum and encodes the whole payload.
func encodeWithChecksum(payload []byte) string {
	checksum := crypto.Keccak256(payload)[:checksumLen]
	return encodeBase58(append(payload, checksum...))
}
