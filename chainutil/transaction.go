// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainutil

import (
	"sync"

	"github.com/aix-network/aixd/crypto"
)

// Kind is the closed sum of transaction variants spec.md §9 calls for in
// place of the source's dynamic duck-typed transactions. Each variant has
// its own validation rule and signing preimage participation.
type Kind uint8

const (
	// KindNormal is an ordinary value transfer, signed by sender.
	KindNormal Kind = iota
	// KindCoinbase mints the block reward plus fees; must be the first
	// transaction of a block and carries no signature.
	KindCoinbase
	// KindGovernance carries an opaque payload authorized by the
	// governance collaborator's signing key rather than a sender's own
	// key.
	KindGovernance
	// KindProtected moves funds out of a protected address; admissible
	// only when a GovernanceSigner-backed predicate approves it.
	KindProtected
)

// String implements fmt.Stringer for logging.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindCoinbase:
		return "coinbase"
	case KindGovernance:
		return "governance"
	case KindProtected:
		return "protected"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the four recognized variants.
func (k Kind) Valid() bool {
	return k <= KindProtected
}

// Transaction is the node's transaction entity, per spec.md §3. txid is
// computed lazily and cached, per spec.md §4.2.
type Transaction struct {
	Sender    crypto.Address
	Recipient crypto.Address
	Amount    uint64
	Fee       uint64
	Nonce     uint64
	Timestamp int64
	Kind      Kind
	PublicKey []byte // optional
	Signature []byte
	Data      []byte // optional, bounded by MAX_TX_SIZE

	hashOnce sync.Once
	hash     crypto.Hash
}

// signingPreimage returns the canonical encoding of every field except
// Signature and the derived txid, per spec.md §4.1: "Signatures cover the
// canonical encoding of the tx fields excluding signature and txid."
func (tx *Transaction) signingPreimage() []byte {
	w := &canonicalWriter{}
	w.putFixed(tx.Sender.Payload[:])
	w.putByte(byte(tx.Sender.Network))
	w.putFixed(tx.Recipient.Payload[:])
	w.putByte(byte(tx.Recipient.Network))
	w.putUint64(tx.Amount)
	w.putUint64(tx.Fee)
	w.putUint64(tx.Nonce)
	w.putInt64(tx.Timestamp)
	w.putByte(byte(tx.Kind))
	w.putBytes(tx.PublicKey)
	w.putBytes(tx.Data)
	return w.bytes()
}

// fullPreimage is signingPreimage plus the signature, used for the txid
// hash per spec.md §3: "hash of canonical encoding of all other fields" —
// i.e. every field except txid itself, which does include the signature.
func (tx *Transaction) fullPreimage() []byte {
	w := &canonicalWriter{}
	w.putFixed(tx.signingPreimage())
	w.putBytes(tx.Signature)
	return w.bytes()
}

// TxID returns the transaction's 32-byte identifier, computing and caching
// it on first use. Invariant (spec.md §3): deterministic over the
// canonical encoding and immutable after creation — callers must not
// mutate a Transaction's fields after calling TxID.
func (tx *Transaction) TxID() crypto.Hash {
	tx.hashOnce.Do(func() {
		tx.hash = crypto.Sum(tx.fullPreimage())
	})
	return tx.hash
}

// Sign signs tx with priv, setting Signature. It does not reset a
// previously-cached txid: a TxID call made before Sign keeps returning the
// unsigned transaction's id afterwards.
func (tx *Transaction) Sign(priv *crypto.PrivateKey) {
	tx.Signature = crypto.Sign(priv, tx.signingPreimage())
}

// VerifySignature reports whether tx carries a valid signature from the
// given public key over its signing preimage. It has no coinbase case: a
// coinbase's empty signature fails here, so callers skip the check for
// coinbase transactions.
func (tx *Transaction) VerifySignature(pub *crypto.PublicKey) bool {
	return crypto.Verify(pub, tx.signingPreimage(), tx.Signature)
}

// SerializeSize returns the length in bytes of tx's full canonical
// encoding, used by stateless validation's MAX_TX_SIZE check (spec.md
// §4.5).
func (tx *Transaction) SerializeSize() int {
	return len(tx.fullPreimage())
}

// FeeRate returns fee per byte of serialized size, the first component of
// the mempool's (fee/size, arrival_time) priority ordering (spec.md §3/§4.4).
// A zero-size transaction (which cannot occur for a well-formed tx) yields
// zero rather than dividing by zero.
func (tx *Transaction) FeeRate() float64 {
	size := tx.SerializeSize()
	if size == 0 {
		return 0
	}
	return float64(tx.Fee) / float64(size)
}
