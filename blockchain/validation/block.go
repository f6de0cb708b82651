// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validation

import (
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// ParentInfo is the minimal slice of the previous block the chain store
// hands to Block so this package doesn't need to know about blockNode or
// BlockIndex internals, per spec.md §9's ownership rule ("all other
// components read through [the chain store]").
type ParentInfo struct {
	Index      uint64
	Hash       crypto.Hash
	Timestamp  int64
	MedianTime int64 // median of the previous 11 timestamps ending at parent
}

// Block checks the header and body rules from spec.md §4.5 that apply to a
// candidate block being connected on top of parent. expectedDifficulty is
// computed by the chain store's retargeting rule (spec.md §4.8) since that
// requires walking chain history this package doesn't have access to.
// reward is the subsidy computed for this height (spec.md §4.8). Individual
// non-coinbase transactions are checked with StatelessTx only — contextual
// balance/nonce validity is established by the caller applying the block to
// the UTxO index, which is the only place cumulative effects across the
// block's own transactions can be observed.
func Block(
	block *chainutil.Block,
	parent *ParentInfo,
	expectedDifficulty int,
	now int64,
	params *chaincfg.Params,
	reward uint64,
	cache *SigCache,
	gov GovernanceSigner,
	protected ProtectedAddressPredicate,
) error {
	if block.Index != parent.Index+1 {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "block index %d is not parent index %d + 1",
			block.Index, parent.Index)
	}
	if block.PreviousHash != parent.Hash {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "previous hash %s does not match parent %s",
			block.PreviousHash, parent.Hash)
	}
	if block.Difficulty != expectedDifficulty {
		return errs.Consensusf(errs.ReasonInvalidDifficulty, "difficulty %d does not match expected %d",
			block.Difficulty, expectedDifficulty)
	}
	if block.Hash().LeadingHexZeros() < block.Difficulty {
		return errs.Consensusf(errs.ReasonInvalidDifficulty, "hash %s does not satisfy difficulty %d",
			block.Hash(), block.Difficulty)
	}

	skew := int64(params.MaxClockSkew / 1_000_000_000)
	if block.Timestamp < parent.Timestamp-skew || block.Timestamp > now+skew {
		return errs.Consensusf(errs.ReasonInvalidTimestamp,
			"timestamp %d outside [%d, %d]", block.Timestamp, parent.Timestamp-skew, now+skew)
	}
	if block.Timestamp <= parent.MedianTime {
		return errs.Consensusf(errs.ReasonInvalidTimestamp,
			"timestamp %d not greater than median time %d", block.Timestamp, parent.MedianTime)
	}

	if block.ComputeMerkleRoot() != block.MerkleRoot {
		return errs.Consensusf(errs.ReasonInvalidMerkleRoot, "merkle root mismatch")
	}
	if block.SerializeSize() > params.MaxBlockSize {
		return errs.Consensusf(errs.ReasonOversizedBlock, "block size %d exceeds MAX_BLOCK_SIZE %d",
			block.SerializeSize(), params.MaxBlockSize)
	}
	if len(block.Transactions) == 0 || block.Transactions[0].Kind != chainutil.KindCoinbase {
		return errs.Consensusf(errs.ReasonInvalidCoinbase, "first transaction is not a coinbase")
	}

	var totalFees uint64
	for _, tx := range block.Transactions[1:] {
		if tx.Kind == chainutil.KindCoinbase {
			return errs.Consensusf(errs.ReasonInvalidCoinbase, "coinbase transaction outside position 0")
		}
		if err := StatelessTx(tx, params, cache); err != nil {
			return err
		}
		if protected != nil && protected.IsProtected(tx.Sender) && tx.Kind != chainutil.KindProtected {
			return errs.Consensusf(errs.ReasonProtectedAddress, "tx from protected sender %x not marked protected",
				tx.Sender.Payload)
		}
		if tx.Kind != chainutil.KindGovernance {
			// A governance transaction's fee is never actually collected —
			// utxo.Index.ApplyBlock skips it entirely, carrying no value
			// transfer — so it must not inflate the reward the coinbase is
			// allowed to claim.
			totalFees += tx.Fee
		}
	}

	coinbase := block.Transactions[0]
	wantReward := reward + totalFees
	if coinbase.Amount != wantReward {
		return errs.Consensusf(errs.ReasonInvalidCoinbase, "coinbase pays %d, expected reward+fees %d",
			coinbase.Amount, wantReward)
	}
	if err := StatelessTx(coinbase, params, cache); err != nil {
		return err
	}

	return nil
}
