// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validation

import (
	"math"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// BalanceNonceView is the read-only slice of the UTxO index contextual
// validation needs. Accepting an interface rather than *utxo.Index keeps
// this package testable without constructing a full index and lets the
// mempool validate candidate transactions against its own in-flight view
// (spec.md §4.4) using the same code path as block validation.
type BalanceNonceView interface {
	Balance(addr crypto.Address) uint64
	NextNonce(addr crypto.Address) uint64
}

// ContextualTx checks the per-transaction rules that depend on chain state,
// per spec.md §4.5: sufficient balance, the next expected nonce, and the
// protected-address policy. KindGovernance transactions are authorized
// directly by the GovernanceSigner rather than by a sender balance, since
// they carry no value transfer.
func ContextualTx(tx *chainutil.Transaction, view BalanceNonceView, gov GovernanceSigner, protected ProtectedAddressPredicate) error {
	if tx.Kind == chainutil.KindGovernance {
		if gov == nil || !gov.VerifyGovernanceSignature(tx.Data, tx.Signature) {
			return errs.Validationf(errs.ReasonInvalidSignature, "governance transaction not authorized")
		}
		return nil
	}

	if protected != nil && protected.IsProtected(tx.Sender) {
		if tx.Kind != chainutil.KindProtected {
			return errs.Validationf(errs.ReasonProtectedAddress, "sender %x is protected", tx.Sender.Payload)
		}
		if gov == nil || !gov.VerifyGovernanceSignature(tx.Data, tx.Signature) {
			return errs.Validationf(errs.ReasonProtectedAddress, "protected-address transaction lacks governance authorization")
		}
	}

	if tx.Amount > math.MaxUint64-tx.Fee {
		return errs.Validationf(errs.ReasonInvalidAmount, "amount %d plus fee %d overflows a 64-bit balance",
			tx.Amount, tx.Fee)
	}
	have := view.Balance(tx.Sender)
	need := tx.Amount + tx.Fee
	if have < need {
		return errs.Validationf(errs.ReasonInsufficientBalance, "sender %x has %d, needs %d",
			tx.Sender.Payload, have, need)
	}

	expected := view.NextNonce(tx.Sender)
	if tx.Nonce != expected {
		return errs.Validationf(errs.ReasonNonceMismatch, "sender %x nonce %d, expected %d",
			tx.Sender.Payload, tx.Nonce, expected)
	}

	return nil
}
