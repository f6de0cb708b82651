// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"testing"

	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// TestGenesisAndOneTxBlock implements spec.md §8 scenario 1 literally:
// given initial_reward=50, min_fee=1, initial_difficulty=1 and a genesis
// crediting A with 100, mining a block with tx {A->B, amount=10, fee=1,
// nonce=0} to miner M should leave balance(A)=89, balance(B)=10,
// balance(M)=51, next_nonce(A)=1.
func TestGenesisAndOneTxBlock(t *testing.T) {
	params := testParams()
	kpA := mustKeyPair()
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrM := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)

	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)

	tx := signedTx(kpA, addrA, addrB, 10, 1, 0, params.GenesisTimestamp+10)
	block := mineBlock(t, params, bc, []*chainutil.Transaction{tx}, addrM, params.GenesisTimestamp+10)

	cache := validation.NewSigCache(100)
	if err := bc.TryExtend(block, cache, validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("TryExtend: %v", err)
	}

	if got := bc.Height(); got != 1 {
		t.Fatalf("height = %d, want 1", got)
	}
	if got := bc.Balance(addrA); got != 89 {
		t.Fatalf("balance(A) = %d, want 89", got)
	}
	if got := bc.Balance(addrB); got != 10 {
		t.Fatalf("balance(B) = %d, want 10", got)
	}
	if got := bc.Balance(addrM); got != 51 {
		t.Fatalf("balance(M) = %d, want 51", got)
	}
	if got := bc.NextNonce(addrA); got != 1 {
		t.Fatalf("next_nonce(A) = %d, want 1", got)
	}
}

// TestTryExtendRejectsWrongPrevHash exercises the boundary behavior that an
// invalid block mutates nothing.
func TestTryExtendRejectsWrongPrevHash(t *testing.T) {
	params := testParams()
	addrA := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrM := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)

	block := mineBlock(t, params, bc, nil, addrM, params.GenesisTimestamp+10)
	block.PreviousHash = crypto.Sum([]byte("not the real parent"))
	block.ResetHash()

	cache := validation.NewSigCache(100)
	if err := bc.TryExtend(block, cache, validation.NoGovernance{}, nil); err == nil {
		t.Fatalf("expected rejection for wrong previous hash")
	}
	if bc.Height() != 0 {
		t.Fatalf("height changed after rejected block: %d", bc.Height())
	}
}

// TestReorgToHigherWork implements a simplified version of spec.md §8
// scenario 3: chain Y diverges from X at a common ancestor and has more
// cumulative work, so the chain store switches to Y and UTxO state reflects
// a clean replay of Y.
func TestReorgToHigherWork(t *testing.T) {
	params := testParams()
	addrA := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrMX := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrMY := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)

	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)
	cache := validation.NewSigCache(100)

	// Common ancestor: one block mined by both forks' shared history.
	common := mineBlock(t, params, bc, nil, addrMX, params.GenesisTimestamp+10)
	if err := bc.TryExtend(common, cache, validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("extend common: %v", err)
	}

	// Chain X: one more block on top of common.
	blockX := mineBlock(t, params, bc, nil, addrMX, params.GenesisTimestamp+20)
	if err := bc.TryExtend(blockX, cache, validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("extend X: %v", err)
	}

	// Chain Y: two blocks on top of the same common ancestor. A throwaway
	// shadow BlockChain mines them against their own correct chain-tip
	// state; the real bc then learns about them via TryExtendFork before
	// switching to Y for its greater cumulative work.
	fakeChain := New(params, genesis)
	if err := fakeChain.TryExtend(common, validation.NewSigCache(100), validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("rebuild common on shadow chain: %v", err)
	}
	blockY1 := mineBlock(t, params, fakeChain, nil, addrMY, params.GenesisTimestamp+21)
	if err := fakeChain.TryExtend(blockY1, validation.NewSigCache(100), validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("extend Y1 on shadow chain: %v", err)
	}
	blockY2 := mineBlock(t, params, fakeChain, nil, addrMY, params.GenesisTimestamp+22)
	if err := fakeChain.TryExtend(blockY2, validation.NewSigCache(100), validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("extend Y2 on shadow chain: %v", err)
	}

	if err := bc.TryExtendFork(blockY1, cache, validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("TryExtendFork Y1: %v", err)
	}
	if err := bc.TryExtendFork(blockY2, cache, validation.NoGovernance{}, nil); err != nil {
		t.Fatalf("TryExtendFork Y2: %v", err)
	}

	if err := bc.TrySwitchTo(blockY2.Hash(), params.GenesisTimestamp+22, params.GenesisTimestamp+20, "", nil); err != nil {
		t.Fatalf("TrySwitchTo: %v", err)
	}

	if got := bc.Tip().Hash(); got != blockY2.Hash() {
		t.Fatalf("tip = %s, want %s", got, blockY2.Hash())
	}
	if got := bc.Height(); got != 3 {
		t.Fatalf("height = %d, want 3", got)
	}
	if got := bc.Balance(addrMY); got == 0 {
		t.Fatalf("balance(MY) = %d, want nonzero after switching to Y", got)
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

// TestTryExtendAcceptsGovernanceTxWithArbitraryNonce confirms a block
// carrying a KindGovernance transaction with a nonce that has never been
// tracked for its sender still connects cleanly end to end through
// TryExtend — the same path a synced block or a miner-assembled block takes
// — rather than tripping utxo.Index.ApplyBlock's nonce-mismatch check and
// aborting the whole block.
func TestTryExtendAcceptsGovernanceTxWithArbitraryNonce(t *testing.T) {
	params := testParams()
	addrA := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrM := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)

	govKP := mustKeyPair()
	gov := &fakeGov{kp: govKP}
	govTx := governanceTx(govKP, addrA, 9999, []byte("raise MIN_FEE"), params.GenesisTimestamp+10)

	block := mineBlock(t, params, bc, []*chainutil.Transaction{govTx}, addrM, params.GenesisTimestamp+10)

	if err := bc.TryExtend(block, validation.NewSigCache(100), gov, nil); err != nil {
		t.Fatalf("TryExtend with governance tx: %v", err)
	}
	if got := bc.Height(); got != 1 {
		t.Fatalf("height = %d, want 1", got)
	}
	if got := bc.NextNonce(addrA); got != 0 {
		t.Fatalf("next_nonce(A) = %d, want 0 (governance tx must not bump it)", got)
	}
	if got := bc.Balance(addrM); got != params.InitialReward {
		t.Fatalf("balance(M) = %d, want reward-only %d (no governance fee)", got, params.InitialReward)
	}
}

// TestTryExtendRejectsInsufficientBalanceAsValidationNotState confirms a
// block whose only defect is a sender spending more than its balance is
// rejected as an ordinary *errs.Error of Kind Validation — the outcome
// utxo.Index.ApplyBlock's own contextual walk produces — rather than the
// Kind State that would make internal/node's writer halt over what is
// really just a bad block from a peer.
func TestTryExtendRejectsInsufficientBalanceAsValidationNotState(t *testing.T) {
	params := testParams()
	kpA := mustKeyPair()
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrM := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)

	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)

	tx := signedTx(kpA, addrA, addrB, 1000, 1, 0, params.GenesisTimestamp+10)
	block := mineBlock(t, params, bc, []*chainutil.Transaction{tx}, addrM, params.GenesisTimestamp+10)

	err := bc.TryExtend(block, validation.NewSigCache(100), validation.NoGovernance{}, nil)
	if err == nil {
		t.Fatal("TryExtend accepted a block spending more than the sender's balance")
	}
	e, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("TryExtend error is not *errs.Error: %v", err)
	}
	if e.Kind != errs.Validation {
		t.Fatalf("error kind = %v, want %v (insufficient balance is a peer's bad block, not a local invariant break)",
			e.Kind, errs.Validation)
	}
	if e.Reason != errs.ReasonInsufficientBalance {
		t.Fatalf("error reason = %v, want %v", e.Reason, errs.ReasonInsufficientBalance)
	}
	if bc.Height() != 0 {
		t.Fatalf("height = %d, want 0 (rejected block must not connect)", bc.Height())
	}
}

// TestTryExtendRejectsAmountFeeOverflow confirms a transaction whose
// amount+fee would wrap around uint64 is rejected rather than silently
// passing a balance check against a wrapped, much smaller "need".
func TestTryExtendRejectsAmountFeeOverflow(t *testing.T) {
	params := testParams()
	kpA := mustKeyPair()
	addrA := crypto.AddressFromPubKey(kpA.Public, crypto.Testnet)
	addrB := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)
	addrM := crypto.AddressFromPubKey(mustKeyPair().Public, crypto.Testnet)

	genesis := params.NewGenesisBlock(addrA, 100)
	bc := New(params, genesis)

	tx := signedTx(kpA, addrA, addrB, math.MaxUint64-1, 5, 0, params.GenesisTimestamp+10)
	block := mineBlock(t, params, bc, []*chainutil.Transaction{tx}, addrM, params.GenesisTimestamp+10)

	err := bc.TryExtend(block, validation.NewSigCache(100), validation.NoGovernance{}, nil)
	if err == nil {
		t.Fatal("TryExtend accepted a block with an amount+fee overflow")
	}
	e, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("TryExtend error is not *errs.Error: %v", err)
	}
	if e.Reason != errs.ReasonInvalidAmount {
		t.Fatalf("error reason = %v, want %v (ApplyBlock range-checks amount+fee before debiting)",
			e.Reason, errs.ReasonInvalidAmount)
	}
}
