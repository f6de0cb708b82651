// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainutil

import (
	"sync"

	"github.com/aix-network/aixd/crypto"
)

// Block is the node's block entity, per spec.md §3. Transactions[0] is
// always the coinbase. hash is computed lazily and cached, per spec.md
// §4.2.
type Block struct {
	Index        uint64
	Timestamp    int64
	PreviousHash crypto.Hash
	Transactions []*Transaction
	Nonce        uint64
	Difficulty   int // required leading hex zeros
	MerkleRoot   crypto.Hash

	hashOnce sync.Once
	hash     crypto.Hash
}

// headerPreimage returns the canonical encoding of the header fields the
// block hash is computed over, per spec.md §3: "hash = hash over canonical
// header (index ‖ timestamp ‖ previous_hash ‖ merkle_root ‖ nonce ‖
// difficulty)."
func (b *Block) headerPreimage() []byte {
	w := &canonicalWriter{}
	w.putUint64(b.Index)
	w.putInt64(b.Timestamp)
	w.putFixed(b.PreviousHash[:])
	w.putFixed(b.MerkleRoot[:])
	w.putUint64(b.Nonce)
	w.putUint32(uint32(b.Difficulty))
	return w.bytes()
}

// HeaderBytes is headerPreimage exported: the canonical header encoding the
// block hash is computed over, with the nonce in the 8 bytes just before
// the trailing 4-byte difficulty.
func (b *Block) HeaderBytes() []byte {
	return b.headerPreimage()
}

// Hash returns the block's 32-byte identifier, computing and caching it on
// first use.
func (b *Block) Hash() crypto.Hash {
	b.hashOnce.Do(func() {
		b.hash = crypto.Sum(b.headerPreimage())
	})
	return b.hash
}

// ResetHash clears the cached hash, used by the miner after mutating Nonce
// between proof-of-work attempts since Block is otherwise immutable once
// hashed.
func (b *Block) ResetHash() {
	b.hashOnce = sync.Once{}
}

// ComputeMerkleRoot derives the Merkle root over the block's transaction
// ids, per spec.md §3/§4.2.
func (b *Block) ComputeMerkleRoot() crypto.Hash {
	return MerkleRootFromTxs(b.Transactions)
}

// MerkleRootFromTxs derives the Merkle root over a slice of transactions'
// ids, per spec.md §3/§4.2. Exposed standalone so validation can recompute
// a candidate merkle root from a transaction list before it is attached to
// a Block.
func MerkleRootFromTxs(txs []*Transaction) crypto.Hash {
	ids := make([]crypto.Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID()
	}
	return crypto.MerkleRoot(ids)
}

// SerializeSize returns the approximate encoded size of the whole block
// (header plus every transaction's canonical encoding), used by the
// MAX_BLOCK_SIZE check (spec.md §4.5).
func (b *Block) SerializeSize() int {
	size := len(b.headerPreimage())
	for _, tx := range b.Transactions {
		size += tx.SerializeSize()
	}
	return size
}

// Coinbase returns the block's first transaction, or nil if the block has
// none (only possible for a malformed block under construction).
func (b *Block) Coinbase() *Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}
