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

// StatelessTx checks the per-transaction rules that don't depend on chain
// state, per spec.md §4.5: address format, fee floor, signature validity,
// size bound, and the coinbase shape invariant. KindGovernance is exempt
// from the fee floor and signature check (see the Kind switch below);
// everything else applies uniformly.
func StatelessTx(tx *chainutil.Transaction, params *chaincfg.Params, cache *SigCache) error {
	if !tx.Kind.Valid() {
		return errs.Validationf(errs.ReasonInvalidAddress, "unrecognized transaction kind %d", tx.Kind)
	}

	if tx.Kind == chainutil.KindCoinbase {
		if len(tx.Signature) != 0 {
			return errs.Validationf(errs.ReasonInvalidSignature, "coinbase transaction must be unsigned")
		}
		if !crypto.IsValidFormat(tx.Recipient.Payload[:]) {
			return errs.Validationf(errs.ReasonInvalidAddress, "coinbase recipient has invalid address format")
		}
		if tx.SerializeSize() > params.MaxTxSize {
			return errs.Validationf(errs.ReasonOversizedTx, "coinbase size %d exceeds MAX_TX_SIZE %d",
				tx.SerializeSize(), params.MaxTxSize)
		}
		return nil
	}

	if !crypto.IsValidFormat(tx.Sender.Payload[:]) {
		return errs.Validationf(errs.ReasonInvalidAddress, "sender has invalid address format")
	}
	if !crypto.IsValidFormat(tx.Recipient.Payload[:]) {
		return errs.Validationf(errs.ReasonInvalidAddress, "recipient has invalid address format")
	}
	if tx.SerializeSize() > params.MaxTxSize {
		return errs.Validationf(errs.ReasonOversizedTx, "tx size %d exceeds MAX_TX_SIZE %d",
			tx.SerializeSize(), params.MaxTxSize)
	}

	if tx.Kind == chainutil.KindGovernance {
		// Authorized by the governance collaborator's key signing tx.Data,
		// not by the sender's own key over the signing preimage, so neither
		// the fee floor nor the pubkey/signature check below apply; the
		// real authorization check needs a GovernanceSigner, which only
		// ContextualTx and mempool.Admit have.
		return nil
	}

	if tx.Fee < params.MinFee {
		return errs.Validationf(errs.ReasonFeeTooLow, "fee %d below MIN_FEE %d", tx.Fee, params.MinFee)
	}

	pub, err := crypto.ParsePublicKey(tx.PublicKey)
	if err != nil {
		return errs.Validationf(errs.ReasonInvalidSignature, "invalid public key: %v", err)
	}
	candidate := crypto.AddressFromPubKey(pub, tx.Sender.Network)
	if !candidate.Equal(tx.Sender) {
		return errs.Validationf(errs.ReasonInvalidSignature, "public key does not match sender address")
	}
	if cache != nil {
		if !cache.VerifyTxSignature(tx, pub) {
			return errs.Validationf(errs.ReasonInvalidSignature, "signature does not verify")
		}
	} else if !tx.VerifySignature(pub) {
		return errs.Validationf(errs.ReasonInvalidSignature, "signature does not verify")
	}

	return nil
}
