// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math"
	"testing"

	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// fakeView is a fixed balance/nonce view for testing, standing in for a
// chain store's UTxO index without constructing one.
type fakeView struct {
	balances map[crypto.Address]uint64
	nonces   map[crypto.Address]uint64
}

func (v *fakeView) Balance(addr crypto.Address) uint64  { return v.balances[addr] }
func (v *fakeView) NextNonce(addr crypto.Address) uint64 { return v.nonces[addr] }

func testParams() *chaincfg.Params {
	return &chaincfg.Params{
		MinFee:      1,
		MaxTxSize:   16 << 10,
		MaxMempool:  10,
		MaxNonceGap: 0,
	}
}

func signedTx(kp *crypto.KeyPair, sender, recipient crypto.Address, amount, fee, nonce uint64) *chainutil.Transaction {
	tx := &chainutil.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: 1_700_000_000,
		Kind:      chainutil.KindNormal,
		PublicKey: crypto.SerializePublicKey(kp.Public),
	}
	tx.Sign(kp.Private)
	return tx
}

func mustKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return kp
}

// TestNonceGapRejection implements spec.md §8 scenario 2 literally: with
// next_nonce(A)=1, submitting nonce=2 on a MaxNonceGap=0 pool is rejected
// and the pool is left unchanged.
func TestNonceGapRejection(t *testing.T) {
	kpA := mustKeyPair(t)
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{
		balances: map[crypto.Address]uint64{addrA: 89},
		nonces:   map[crypto.Address]uint64{addrA: 1},
	}
	params := testParams()
	pool := New(params, view, validation.NewSigCache(10), validation.NoGovernance{}, nil)

	tx := signedTx(kpA, addrA, addrB, 1, 1, 2)
	err := pool.Admit(tx, Now())
	if err == nil {
		t.Fatalf("expected rejection for nonce gap")
	}
	if pool.Len() != 0 {
		t.Fatalf("pool should remain empty after rejection, has %d", pool.Len())
	}
}

func TestAdmitAcceptsExactNextNonce(t *testing.T) {
	kpA := mustKeyPair(t)
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{
		balances: map[crypto.Address]uint64{addrA: 89},
		nonces:   map[crypto.Address]uint64{addrA: 1},
	}
	pool := New(testParams(), view, validation.NewSigCache(10), validation.NoGovernance{}, nil)

	tx := signedTx(kpA, addrA, addrB, 1, 1, 1)
	if err := pool.Admit(tx, Now()); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if pool.Len() != 1 {
		t.Fatalf("pool len = %d, want 1", pool.Len())
	}

	cands := pool.Candidates(10)
	if len(cands) != 1 || cands[0].TxID() != tx.TxID() {
		t.Fatalf("expected the admitted tx to be an immediate candidate")
	}
}

// TestAdmitRejectsAmountFeeOverflow confirms Admit range-checks
// tx.Amount+tx.Fee before summing: without that check a huge Amount paired
// with a small Fee wraps past zero and would pass poolAdjustedBalance's
// comparison against any positive balance.
func TestAdmitRejectsAmountFeeOverflow(t *testing.T) {
	kpA := mustKeyPair(t)
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{
		balances: map[crypto.Address]uint64{addrA: 1_000_000},
		nonces:   map[crypto.Address]uint64{addrA: 0},
	}
	pool := New(testParams(), view, validation.NewSigCache(10), validation.NoGovernance{}, nil)

	tx := signedTx(kpA, addrA, addrB, math.MaxUint64-1, 5, 0)
	err := pool.Admit(tx, Now())
	if err == nil {
		t.Fatalf("Admit accepted a transaction with an amount+fee overflow")
	}
	e, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("error is not *errs.Error: %v", err)
	}
	if e.Reason != errs.ReasonInvalidAmount {
		t.Fatalf("reason = %v, want %v", e.Reason, errs.ReasonInvalidAmount)
	}
	if pool.Len() != 0 {
		t.Fatalf("pool len = %d, want 0", pool.Len())
	}
}

func TestNonceGapBufferingWithPositiveGap(t *testing.T) {
	kpA := mustKeyPair(t)
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{
		balances: map[crypto.Address]uint64{addrA: 100},
		nonces:   map[crypto.Address]uint64{addrA: 0},
	}
	params := testParams()
	params.MaxNonceGap = 2
	pool := New(params, view, validation.NewSigCache(10), validation.NoGovernance{}, nil)

	future := signedTx(kpA, addrA, addrB, 1, 1, 1)
	if err := pool.Admit(future, Now()); err != nil {
		t.Fatalf("Admit future nonce within gap: %v", err)
	}

	// Not yet a candidate: its predecessor (nonce 0) hasn't arrived.
	if cands := pool.Candidates(10); len(cands) != 0 {
		t.Fatalf("expected no candidates before predecessor nonce arrives, got %d", len(cands))
	}

	predecessor := signedTx(kpA, addrA, addrB, 1, 1, 0)
	if err := pool.Admit(predecessor, Now()); err != nil {
		t.Fatalf("Admit predecessor: %v", err)
	}

	cands := pool.Candidates(10)
	if len(cands) != 2 {
		t.Fatalf("expected both transactions once contiguous, got %d", len(cands))
	}
	if cands[0].Nonce != 0 || cands[1].Nonce != 1 {
		t.Fatalf("candidates out of nonce order: %d, %d", cands[0].Nonce, cands[1].Nonce)
	}
}

func TestEvictionRemovesLowestFeeRate(t *testing.T) {
	view := &fakeView{balances: map[crypto.Address]uint64{}, nonces: map[crypto.Address]uint64{}}
	params := testParams()
	params.MaxMempool = 2
	pool := New(params, view, validation.NewSigCache(10), validation.NoGovernance{}, nil)

	var lowFeeTx *chainutil.Transaction
	for i := 0; i < 3; i++ {
		kp := mustKeyPair(t)
		addr := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
		recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
		view.balances[addr] = 1000
		view.nonces[addr] = 0
		fee := uint64(10 + i)
		if i == 0 {
			fee = 1
		}
		tx := signedTx(kp, addr, recipient, 1, fee, 0)
		if i == 0 {
			lowFeeTx = tx
		}
		if err := pool.Admit(tx, int64(i)); err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
	}

	if pool.Len() != 2 {
		t.Fatalf("pool len = %d, want 2 after capacity eviction", pool.Len())
	}
	if pool.Has(lowFeeTx.TxID()) {
		t.Fatalf("lowest fee-rate transaction should have been evicted")
	}
}

// fakeGov authorizes exactly the signatures produced by its own key,
// standing in for internal/config's governanceSigner without a real
// config.Load call.
type fakeGov struct {
	kp *crypto.KeyPair
}

func (g *fakeGov) VerifyGovernanceSignature(msg, sig []byte) bool {
	return crypto.Verify(g.kp.Public, msg, crypto.Signature(sig))
}

func governanceTx(gov *crypto.KeyPair, sender crypto.Address, nonce uint64, data []byte) *chainutil.Transaction {
	tx := &chainutil.Transaction{
		Sender:    sender,
		Recipient: sender,
		Nonce:     nonce,
		Timestamp: 1_700_000_000,
		Kind:      chainutil.KindGovernance,
		Data:      data,
	}
	tx.Signature = crypto.Sign(gov.Private, tx.Data)
	return tx
}

// TestAdmitGovernanceTxBypassesNonceAndBalance confirms a KindGovernance
// transaction is admitted purely on GovernanceSigner authorization — an
// unfunded sender and an arbitrary, never-synchronized nonce don't block it,
// matching blockchain/validation.ContextualTx's exemption (spec.md §4.5).
func TestAdmitGovernanceTxBypassesNonceAndBalance(t *testing.T) {
	govKP := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{balances: map[crypto.Address]uint64{}, nonces: map[crypto.Address]uint64{}}
	pool := New(testParams(), view, validation.NewSigCache(10), &fakeGov{kp: govKP}, nil)

	tx := governanceTx(govKP, sender, 9999, []byte("raise MIN_FEE"))
	if err := pool.Admit(tx, Now()); err != nil {
		t.Fatalf("Admit governance tx: %v", err)
	}

	cands := pool.Candidates(10)
	if len(cands) != 1 || cands[0].TxID() != tx.TxID() {
		t.Fatalf("governance tx should be an immediate candidate regardless of sender nonce/balance")
	}
}

// TestAdmitGovernanceTxRequiresAuthorization confirms a governance-kind
// transaction signed by a key other than the configured GovernanceSigner's
// is rejected, not silently accepted as an ordinary unsigned payload.
func TestAdmitGovernanceTxRequiresAuthorization(t *testing.T) {
	govKP := mustKeyPair(t)
	forger := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	view := &fakeView{balances: map[crypto.Address]uint64{}, nonces: map[crypto.Address]uint64{}}
	pool := New(testParams(), view, validation.NewSigCache(10), &fakeGov{kp: govKP}, nil)

	tx := governanceTx(forger, sender, 0, []byte("raise MIN_FEE"))
	if err := pool.Admit(tx, Now()); err == nil {
		t.Fatalf("expected rejection for a governance tx not signed by the configured key")
	}
	if pool.Len() != 0 {
		t.Fatalf("pool should remain empty after rejecting unauthorized governance tx")
	}
}
