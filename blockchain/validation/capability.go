// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package validation implements the node's stateless, contextual, and
// block-level rule checks (spec.md §4.5/§9: a closed "Validator" component
// the rest of the node depends on, with no dependency running the other
// way). Grounded on the teacher's txscript/sigcache.go for the concurrent
// verified-signature cache shape, adapted from ECDSA-over-script-hash to
// ECDSA-over-canonical-tx-preimage.
package validation

import "github.com/aix-network/aixd/crypto"

// GovernanceSigner and ProtectedAddressPredicate are the capability
// interfaces spec.md §9 calls for in place of "polymorphic AI/governance
// hooks": the core consumes them without depending on any concrete
// governance implementation (which lives in an external collaborator per
// spec.md §1).

// GovernanceSigner verifies that a signature over msg was produced by the
// governance collaborator's current signing key. It is used to authorize
// KindGovernance transactions and to co-sign KindProtected transactions
// that move funds out of a protected address.
type GovernanceSigner interface {
	VerifyGovernanceSignature(msg []byte, sig []byte) bool
}

// ProtectedAddressPredicate reports whether addr is currently a protected
// address (spec.md §4.5: "sender not on the protected_addresses set unless
// the tx is marked protected by a governance-owned key"). The predicate is
// opaque: the core neither maintains the set nor interprets why an address
// is protected.
type ProtectedAddressPredicate interface {
	IsProtected(addr crypto.Address) bool
}

// NoGovernance is a GovernanceSigner/ProtectedAddressPredicate pair that
// authorizes nothing and protects nothing, used by devnet and tests that
// don't wire in a real governance collaborator.
type NoGovernance struct{}

// VerifyGovernanceSignature always reports false.
func (NoGovernance) VerifyGovernanceSignature([]byte, []byte) bool { return false }

// IsProtected always reports false.
func (NoGovernance) IsProtected(crypto.Address) bool { return false }
