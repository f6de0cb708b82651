// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PrivateKey and PublicKey alias the secp256k1 types directly rather than
// wrapping them, since nothing in this package needs to hide curve details
// from the rest of the node.
type (
	PrivateKey = secp256k1.PrivateKey
	PublicKey  = secp256k1.PublicKey
)

// Signature is a variable-length DER-serialized ECDSA signature, as
// secp256k1's ecdsa.Signature.Serialize produces it; txs store it as opaque
// bytes.
type Signature []byte

// KeyPair is a generated identity: the private key plus its derived public
// key, returned together because every caller that generates a key needs
// both.
type KeyPair struct {
	Private *PrivateKey
	Public  *PublicKey
}

// GenerateKeyPair creates a new secp256k1 key pair using a CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// Sign produces a deterministic (RFC 6979) ECDSA signature over msg's
// blake256 digest, matching spec.md §4.1: "deterministic signatures."
func Sign(priv *PrivateKey, msg []byte) Signature {
	digest := Sum(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return Signature(sig.Serialize())
}

// Verify reports whether sig is a valid signature by pub over msg's
// blake256 digest.
func Verify(pub *PublicKey, msg []byte, sig Signature) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := Sum(msg)
	return parsed.Verify(digest[:], pub)
}

// ParsePublicKey decodes a compressed or uncompressed SEC1 public key.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	return secp256k1.ParsePubKey(b)
}

// SerializePublicKey returns the compressed SEC1 encoding of pub.
func SerializePublicKey(pub *PublicKey) []byte {
	return pub.SerializeCompressed()
}

// randomHash is used in places that need a random 256-bit value that is not
// a content hash, e.g. generating a node identity nonce for handshakes.
func randomHash() (Hash, error) {
	var h Hash
	_, err := rand.Read(h[:])
	return h, err
}

// RandomNodeID returns a random 256-bit node identity nonce for the wire
// handshake message's node_id field.
func RandomNodeID() (Hash, error) {
	return randomHash()
}
