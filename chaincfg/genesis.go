// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
)

// NewGenesisBlock constructs the network's genesis block: height 0, a
// single unsigned coinbase transaction crediting premineRecipient with
// premineAmount, and the network's configured initial difficulty. Per
// spec.md §3, the genesis block's hash only needs to be reproducible and
// used as the chain's root previous-hash; it is not itself required to
// satisfy its own declared difficulty.
func (p *Params) NewGenesisBlock(premineRecipient crypto.Address, premineAmount uint64) *chainutil.Block {
	coinbase := &chainutil.Transaction{
		Sender:    crypto.Address{Network: p.Network},
		Recipient: premineRecipient,
		Amount:    premineAmount,
		Fee:       0,
		Nonce:     0,
		Timestamp: p.GenesisTimestamp,
		Kind:      chainutil.KindCoinbase,
	}

	block := &chainutil.Block{
		Index:        0,
		Timestamp:    p.GenesisTimestamp,
		PreviousHash: crypto.Hash{},
		Transactions: []*chainutil.Transaction{coinbase},
		Nonce:        0,
		Difficulty:   p.InitialDifficulty,
	}
	block.MerkleRoot = block.ComputeMerkleRoot()
	return block
}
