// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/bech32"
)

// AddressSize is the number of bytes in the hashed public-key digest that
// makes up an Address's identifying payload.
const AddressSize = 20

// Network identifies which of the node's networks an address or handshake
// belongs to, per spec.md §3/§6.
type Network uint8

// The three networks the node recognizes, matching SPEC_FULL.md §3's bech32
// human-readable parts.
const (
	Mainnet Network = iota
	Testnet
	Devnet
)

// HRP returns the bech32 human-readable part used as the address's textual
// prefix on this network.
func (n Network) HRP() string {
	switch n {
	case Mainnet:
		return "aixn"
	case Testnet:
		return "txai"
	case Devnet:
		return "dnai"
	default:
		return "unkn"
	}
}

// String implements fmt.Stringer for log messages.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Devnet:
		return "devnet"
	default:
		return "unknown"
	}
}

// Address is an opaque, network-scoped digest of a public key, per
// spec.md §3. Equality is by bytes, including the network the address was
// minted for — the same key produces different address bytes on different
// networks is NOT the case here (the digest itself is network-independent;
// the network only governs the textual prefix), so two Addresses with equal
// Payload but different Network still compare unequal since they encode to
// different strings.
type Address struct {
	Network Network
	Payload [AddressSize]byte
}

// Equal reports whether two addresses have the same network and payload.
func (a Address) Equal(other Address) bool {
	return a.Network == other.Network && a.Payload == other.Payload
}

// AddressFromPubKey derives the address for pub on the given network, per
// spec.md §4.1: "Derived as a hash-based digest of a public key."
func AddressFromPubKey(pub *PublicKey, network Network) Address {
	digest := Sum(SerializePublicKey(pub))
	var addr Address
	addr.Network = network
	copy(addr.Payload[:], digest[:AddressSize])
	return addr
}

// EncodeAddress renders addr as its bech32 textual form, e.g.
// "aixn1qqqs7yamxhz0u9..." on mainnet.
func EncodeAddress(addr Address) (string, error) {
	converted, err := bech32.ConvertBits(addr.Payload[:], 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	return bech32.Encode(addr.Network.HRP(), converted)
}

// DecodeAddress parses a bech32 textual address, validating that the
// human-readable part matches a known network and that the payload decodes
// to exactly AddressSize bytes.
func DecodeAddress(s string) (Address, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address: %w", err)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("convert address bits: %w", err)
	}
	if len(payload) != AddressSize {
		return Address{}, fmt.Errorf("invalid address payload length %d", len(payload))
	}
	var network Network
	switch hrp {
	case Mainnet.HRP():
		network = Mainnet
	case Testnet.HRP():
		network = Testnet
	case Devnet.HRP():
		network = Devnet
	default:
		return Address{}, fmt.Errorf("unrecognized address prefix %q", hrp)
	}
	var addr Address
	addr.Network = network
	copy(addr.Payload[:], payload)
	return addr, nil
}

// IsValidFormat reports whether b looks like a raw address payload of the
// correct length, used by stateless validation (spec.md §4.5) to reject
// malformed sender/recipient fields without requiring a full bech32 round
// trip when addresses arrive already decoded from wire messages.
func IsValidFormat(b []byte) bool {
	return len(b) == AddressSize && !bytes.Equal(b, make([]byte, AddressSize))
}
