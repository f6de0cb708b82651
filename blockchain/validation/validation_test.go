// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validation

import (
	"math"
	"testing"

	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

func testParams() *chaincfg.Params {
	return &chaincfg.Params{
		MinFee:        1,
		MaxTxSize:     16 << 10,
		MaxBlockSize:  1 << 20,
		MaxClockSkew:  2 * 60 * 1_000_000_000,
		InitialReward: 50,
	}
}

func mustKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return kp
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

func coinbaseTx(recipient crypto.Address, amount uint64) *chainutil.Transaction {
	return &chainutil.Transaction{
		Recipient: recipient,
		Amount:    amount,
		Timestamp: 1_700_000_000,
		Kind:      chainutil.KindCoinbase,
	}
}

// fakeView is a fixed balance/nonce view, standing in for a chain store's
// UTxO index without constructing one.
type fakeView struct {
	balances map[crypto.Address]uint64
	nonces   map[crypto.Address]uint64
}

func (v *fakeView) Balance(addr crypto.Address) uint64   { return v.balances[addr] }
func (v *fakeView) NextNonce(addr crypto.Address) uint64 { return v.nonces[addr] }

// fakeGov authorizes exactly the signatures produced by its own key.
type fakeGov struct {
	kp *crypto.KeyPair
}

func (g *fakeGov) VerifyGovernanceSignature(msg, sig []byte) bool {
	return crypto.Verify(g.kp.Public, msg, crypto.Signature(sig))
}

// fakeProtected reports addr as protected iff it's in the set.
type fakeProtected map[crypto.Address]bool

func (p fakeProtected) IsProtected(addr crypto.Address) bool { return p[addr] }

func TestStatelessTxAcceptsWellFormedTx(t *testing.T) {
	params := testParams()
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	if err := StatelessTx(tx, params, nil); err != nil {
		t.Fatalf("StatelessTx: %v", err)
	}
}

func TestStatelessTxRejectsFeeBelowFloor(t *testing.T) {
	params := testParams()
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	tx := signedTx(kp, sender, recipient, 10, 0, 0)
	if err := StatelessTx(tx, params, nil); err == nil {
		t.Fatalf("expected rejection for fee below MIN_FEE")
	}
}

func TestStatelessTxRejectsForgedSignature(t *testing.T) {
	params := testParams()
	kp := mustKeyPair(t)
	forger := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	tx.Signature = crypto.Sign(forger.Private, tx.Signature) // not a valid signature over the preimage
	if err := StatelessTx(tx, params, nil); err == nil {
		t.Fatalf("expected rejection for forged signature")
	}
}

// TestStatelessTxGovernanceSkipsFeeAndSenderSignature confirms a
// KindGovernance transaction with no fee and no sender-owned signature
// passes stateless checks: its authorization is a GovernanceSigner check
// over tx.Data that only ContextualTx/mempool.Admit can perform, so
// StatelessTx must not apply the ordinary fee floor or sender-signature
// rule to it.
func TestStatelessTxGovernanceSkipsFeeAndSenderSignature(t *testing.T) {
	params := testParams()
	gov := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	tx := governanceTx(gov, sender, 9999, []byte("raise MIN_FEE"))
	if err := StatelessTx(tx, params, nil); err != nil {
		t.Fatalf("StatelessTx on governance tx: %v", err)
	}
}

func TestStatelessTxRejectsOversizedCoinbase(t *testing.T) {
	params := testParams()
	params.MaxTxSize = 1
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)

	tx := coinbaseTx(recipient, 50)
	if err := StatelessTx(tx, params, nil); err == nil {
		t.Fatalf("expected rejection for oversized coinbase")
	}
}

func TestContextualTxGovernanceBypassesBalanceAndNonce(t *testing.T) {
	govKP := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{balances: map[crypto.Address]uint64{}, nonces: map[crypto.Address]uint64{}}

	tx := governanceTx(govKP, sender, 9999, []byte("raise MIN_FEE"))
	if err := ContextualTx(tx, view, &fakeGov{kp: govKP}, nil); err != nil {
		t.Fatalf("ContextualTx on authorized governance tx: %v", err)
	}
}

func TestContextualTxGovernanceRequiresAuthorization(t *testing.T) {
	govKP := mustKeyPair(t)
	forger := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{balances: map[crypto.Address]uint64{}, nonces: map[crypto.Address]uint64{}}

	tx := governanceTx(forger, sender, 0, []byte("raise MIN_FEE"))
	if err := ContextualTx(tx, view, &fakeGov{kp: govKP}, nil); err == nil {
		t.Fatalf("expected rejection for governance tx signed by the wrong key")
	}
}

func TestContextualTxRejectsProtectedSenderNotMarked(t *testing.T) {
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{
		balances: map[crypto.Address]uint64{sender: 100},
		nonces:   map[crypto.Address]uint64{sender: 0},
	}
	protected := fakeProtected{sender: true}

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	if err := ContextualTx(tx, view, nil, protected); err == nil {
		t.Fatalf("expected rejection for a protected sender's ordinary transaction")
	}
}

func TestContextualTxRejectsInsufficientBalance(t *testing.T) {
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{
		balances: map[crypto.Address]uint64{sender: 5},
		nonces:   map[crypto.Address]uint64{sender: 0},
	}

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	if err := ContextualTx(tx, view, nil, nil); err == nil {
		t.Fatalf("expected rejection for insufficient balance")
	}
}

// TestContextualTxRejectsAmountFeeOverflow confirms tx.Amount+tx.Fee is
// range-checked before summing: without this check a huge Amount with a
// small Fee could wrap past zero and approve against any positive balance.
func TestContextualTxRejectsAmountFeeOverflow(t *testing.T) {
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{
		balances: map[crypto.Address]uint64{sender: 1_000_000},
		nonces:   map[crypto.Address]uint64{sender: 0},
	}

	tx := signedTx(kp, sender, recipient, math.MaxUint64-1, 5, 0)
	err := ContextualTx(tx, view, nil, nil)
	if err == nil {
		t.Fatalf("expected rejection for amount+fee overflow")
	}
	e, ok := err.(*errs.Error)
	if !ok {
		t.Fatalf("error is not *errs.Error: %v", err)
	}
	if e.Reason != errs.ReasonInvalidAmount {
		t.Fatalf("reason = %v, want %v", e.Reason, errs.ReasonInvalidAmount)
	}
}

func TestContextualTxRejectsNonceMismatch(t *testing.T) {
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	view := &fakeView{
		balances: map[crypto.Address]uint64{sender: 100},
		nonces:   map[crypto.Address]uint64{sender: 3},
	}

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	if err := ContextualTx(tx, view, nil, nil); err == nil {
		t.Fatalf("expected rejection for nonce mismatch")
	}
}

// buildBlock mines a trivial difficulty-0 block so tests don't need a real
// proof-of-work search; Block doesn't care how the hash was found, only
// that LeadingHexZeros meets the declared difficulty.
func buildBlock(parent *ParentInfo, txs []*chainutil.Transaction, ts int64) *chainutil.Block {
	block := &chainutil.Block{
		Index:        parent.Index + 1,
		Timestamp:    ts,
		PreviousHash: parent.Hash,
		Transactions: txs,
		Difficulty:   0,
	}
	block.MerkleRoot = block.ComputeMerkleRoot()
	return block
}

func genesisParent() *ParentInfo {
	return &ParentInfo{Index: 0, Hash: crypto.Sum([]byte("genesis")), Timestamp: 1_700_000_000, MedianTime: 1_700_000_000}
}

func TestBlockAcceptsWellFormedBlock(t *testing.T) {
	params := testParams()
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	miner := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	parent := genesisParent()

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	coinbase := coinbaseTx(miner, params.InitialReward+tx.Fee)
	block := buildBlock(parent, []*chainutil.Transaction{coinbase, tx}, parent.Timestamp+10)

	err := Block(block, parent, 0, parent.Timestamp+20, params, params.InitialReward, NewSigCache(10), nil, nil)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
}

// TestBlockExcludesGovernanceFeeFromReward confirms the coinbase-reward
// check stays consistent with utxo.Index.ApplyBlock, which never actually
// collects a governance transaction's fee: a coinbase claiming reward plus
// a governance tx's fee is rejected, while reward-only is accepted.
func TestBlockExcludesGovernanceFeeFromReward(t *testing.T) {
	params := testParams()
	govKP := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	miner := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	parent := genesisParent()

	govTx := governanceTx(govKP, sender, 9999, []byte("raise MIN_FEE"))
	govTx.Fee = 7 // fee is carried on the struct but must never be collected

	wrongCoinbase := coinbaseTx(miner, params.InitialReward+govTx.Fee)
	wrongBlock := buildBlock(parent, []*chainutil.Transaction{wrongCoinbase, govTx}, parent.Timestamp+10)
	if err := Block(wrongBlock, parent, 0, parent.Timestamp+20, params, params.InitialReward, NewSigCache(10), &fakeGov{kp: govKP}, nil); err == nil {
		t.Fatalf("expected rejection for coinbase inflated by a governance tx's fee")
	}

	rightCoinbase := coinbaseTx(miner, params.InitialReward)
	rightBlock := buildBlock(parent, []*chainutil.Transaction{rightCoinbase, govTx}, parent.Timestamp+10)
	if err := Block(rightBlock, parent, 0, parent.Timestamp+20, params, params.InitialReward, NewSigCache(10), &fakeGov{kp: govKP}, nil); err != nil {
		t.Fatalf("Block with reward-only coinbase alongside a governance tx: %v", err)
	}
}

func TestBlockRejectsWrongPrevHash(t *testing.T) {
	params := testParams()
	miner := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	parent := genesisParent()

	coinbase := coinbaseTx(miner, params.InitialReward)
	block := buildBlock(parent, []*chainutil.Transaction{coinbase}, parent.Timestamp+10)
	block.PreviousHash = crypto.Sum([]byte("not the real parent"))

	if err := Block(block, parent, 0, parent.Timestamp+20, params, params.InitialReward, NewSigCache(10), nil, nil); err == nil {
		t.Fatalf("expected rejection for wrong previous hash")
	}
}

func TestBlockRejectsMissingCoinbase(t *testing.T) {
	params := testParams()
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	parent := genesisParent()

	tx := signedTx(kp, sender, recipient, 10, 1, 0)
	block := buildBlock(parent, []*chainutil.Transaction{tx}, parent.Timestamp+10)

	if err := Block(block, parent, 0, parent.Timestamp+20, params, params.InitialReward, NewSigCache(10), nil, nil); err == nil {
		t.Fatalf("expected rejection for a block with no coinbase in position 0")
	}
}

func TestHeaderRejectsWrongDifficulty(t *testing.T) {
	parent := genesisParent()
	header := &chainutil.Block{
		Index:        parent.Index + 1,
		Timestamp:    parent.Timestamp + 10,
		PreviousHash: parent.Hash,
		Difficulty:   0,
	}
	if err := Header(header, parent, 1); err == nil {
		t.Fatalf("expected rejection for a header declaring the wrong difficulty")
	}
}

func TestHeaderAcceptsMatchingDifficulty(t *testing.T) {
	parent := genesisParent()
	header := &chainutil.Block{
		Index:        parent.Index + 1,
		Timestamp:    parent.Timestamp + 10,
		PreviousHash: parent.Hash,
		Difficulty:   0,
	}
	if err := Header(header, parent, 0); err != nil {
		t.Fatalf("Header: %v", err)
	}
}

func TestSigCacheRemembersVerifiedSignature(t *testing.T) {
	cache := NewSigCache(10)
	kp := mustKeyPair(t)
	sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
	recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
	tx := signedTx(kp, sender, recipient, 10, 1, 0)

	if !cache.VerifyTxSignature(tx, kp.Public) {
		t.Fatalf("VerifyTxSignature: want true on first verification")
	}
	if !cache.Exists(tx.TxID()) {
		t.Fatalf("Exists: want cached entry after a valid verification")
	}

	// Mutate the signature after caching; a cache hit should still report
	// valid since VerifyTxSignature never rechecks an already-cached txid.
	tx.Signature = crypto.Sign(mustKeyPair(t).Private, tx.Signature)
	if !cache.VerifyTxSignature(tx, kp.Public) {
		t.Fatalf("VerifyTxSignature: want cached true even after mutating the signature")
	}
}

func TestSigCacheEvictsAtCapacity(t *testing.T) {
	cache := NewSigCache(1)
	var last crypto.Hash
	for i := 0; i < 3; i++ {
		kp := mustKeyPair(t)
		sender := crypto.AddressFromPubKey(kp.Public, crypto.Testnet)
		recipient := crypto.AddressFromPubKey(mustKeyPair(t).Public, crypto.Testnet)
		tx := signedTx(kp, sender, recipient, 10, 1, uint64(i))
		if !cache.VerifyTxSignature(tx, kp.Public) {
			t.Fatalf("VerifyTxSignature: want true")
		}
		last = tx.TxID()
	}
	if len(cache.valid) > 1 {
		t.Fatalf("cache holds %d entries, want at most maxEntries=1", len(cache.valid))
	}
	if !cache.Exists(last) {
		t.Fatalf("Exists: want the most recently added entry still cached")
	}
}

func TestNoGovernanceAuthorizesNothing(t *testing.T) {
	var ng NoGovernance
	if ng.VerifyGovernanceSignature([]byte("msg"), []byte("sig")) {
		t.Fatalf("NoGovernance.VerifyGovernanceSignature: want always false")
	}
	if ng.IsProtected(crypto.Address{}) {
		t.Fatalf("NoGovernance.IsProtected: want always false")
	}
}
