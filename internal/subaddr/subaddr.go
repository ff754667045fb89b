// Package subaddr derives deterministic Monero subaddresses from an
// account's primary address and private view key.
//
// The derivation follows the reference scheme: m = H_s("SubAddr\0" ||
// viewkey || account || index), D = spendPub + m*B, C = viewkey*D, and the
// subaddress encodes (network subaddress prefix, D, C). Only the view key
// is required, so invoicing services can mint receiving addresses without
// any spending authority.
package subaddr

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrUnsupportedAddress reports that the account address is not a
	// primary address (subaddresses and integrated addresses cannot be
	// used as an account root).
	ErrUnsupportedAddress = errors.New("subaddr: address type not supported as account root")

	// ErrInvalidViewKey reports view-key material that is not a 64-char hex
	// string or not a canonical curve scalar.
	ErrInvalidViewKey = errors.New("subaddr: invalid view key material")
)

// subaddressTag domain-separates the derivation hash.
var subaddressTag = []byte("SubAddr\x00")

// Derive computes the subaddress for (accountIndex, addressIndex) under the
// given primary address and private view key. It is pure and deterministic:
// identical inputs always produce an identical address.
func Derive(primaryAddress, viewKeyHex string, accountIndex, addressIndex uint32) (string, error) {
	account, err := ParseAddress(primaryAddress)
	if err != nil {
		return "", ErrUnsupportedAddress
	}
	if account.Kind != KindPrimary {
		return "", ErrUnsupportedAddress
	}

	viewKey, err := parseViewKey(viewKeyHex)
	if err != nil {
		return "", err
	}

	spendPoint, err := new(edwards25519.Point).SetBytes(account.SpendKey[:])
	if err != nil {
		return "", ErrUnsupportedAddress
	}

	// m = scalar_reduce(keccak256("SubAddr\0" || viewkey || account || index))
	buf := make([]byte, 0, len(subaddressTag)+keyLen+8)
	buf = append(buf, subaddressTag...)
	buf = append(buf, viewKey.Bytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, accountIndex)
	buf = binary.LittleEndian.AppendUint32(buf, addressIndex)

	m, err := reduceDigest(crypto.Keccak256(buf))
	if err != nil {
		return "", err
	}

	// D = spendPub + m*B
	d := new(edwards25519.Point).Add(spendPoint, new(edwards25519.Point).ScalarBaseMult(m))

	// C = viewkey*D
	c := new(edwards25519.Point).ScalarMult(viewKey, d)

	payload := make([]byte, 0, 1+2*keyLen)
	payload = append(payload, subaddrPrefixes[account.Network])
	payload = append(payload, d.Bytes()...)
	payload = append(payload, c.Bytes()...)
	return encodeWithChecksum(payload), nil
}

// parseViewKey decodes a 64-char hex view key into a canonical scalar.
func parseViewKey(viewKeyHex string) (*edwards25519.Scalar, error) {
	raw, err := hex.DecodeString(viewKeyHex)
	if err != nil || len(raw) != keyLen {
		return nil, ErrInvalidViewKey
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(raw)
	if err != nil {
		return nil, ErrInvalidViewKey
	}
	return s, nil
}

// reduceDigest interprets a 32-byte digest as a little-endian integer and
// reduces it modulo the curve order.
func reduceDigest(digest []byte) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	copy(wide, digest)
	return new(edwards25519.Scalar).SetUniformBytes(wide)
}
