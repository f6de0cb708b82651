// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxo implements the node's balance/nonce bookkeeping (spec.md
// §3/§4.3: "Logical mapping address → integer balance... Additionally
// tracks nonce[address] → next expected nonce"). Despite the name carried
// over from spec.md (a holdover from the source's UTXO-flavored
// terminology), the model here is literally account-balance based, not a
// set of discrete unspent outputs — that's what the spec's own "balance(a)"
// operation and the e2e scenarios in §8 describe.
//
// Grounded on daglabs-btcd's domain/mempool bookkeeping shape for the
// debit/credit/nonce update pattern, and other_examples' UTxO store sample
// for the apply/revert symmetry requirement (spec.md §8: "apply_block then
// revert_block is the identity").
package utxo

import (
	"math"
	"sync"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// Index is the chain store's derived balance/nonce state. It is reproducible
// by replaying the chain from genesis (spec.md §3), and is guarded by its
// own mutex so read-only queries (balance, next nonce) can proceed against a
// consistent view independent of the single writer's block-application work.
type Index struct {
	mu       sync.RWMutex
	balances map[crypto.Address]uint64
	nonces   map[crypto.Address]uint64
}

// New returns an empty Index, representing the state immediately before
// genesis.
func New() *Index {
	return &Index{
		balances: make(map[crypto.Address]uint64),
		nonces:   make(map[crypto.Address]uint64),
	}
}

// Balance returns addr's current balance in base units. Unknown addresses
// have a zero balance.
func (idx *Index) Balance(addr crypto.Address) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.balances[addr]
}

// NextNonce returns the next nonce Index expects from addr, per spec.md
// §4.3. Unknown addresses expect nonce 0, matching "starting at 0" in
// spec.md §3.
func (idx *Index) NextNonce(addr crypto.Address) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nonces[addr]
}

// undoEntry records what a single applied effect did, so ApplyBlock can be
// exactly undone by RevertBlock (spec.md §8's apply/revert identity law).
type undoEntry struct {
	addr       crypto.Address
	balanceDelta int64
	nonceBefore  uint64
	nonceBumped  bool
}

// BlockUndo is the opaque record ApplyBlock returns and RevertBlock consumes
// to restore the exact pre-application state, including for addresses whose
// balance or nonce didn't previously exist (RevertBlock removes the map
// entry rather than leaving a stray zero, so two replays from genesis over
// the same chain produce byte-identical state — spec.md §8).
type BlockUndo struct {
	entries []undoEntry
	existed map[crypto.Address]bool
}

func (idx *Index) credit(addr crypto.Address, amount uint64, undo *BlockUndo) {
	if _, ok := undo.existed[addr]; !ok {
		_, existed := idx.balances[addr]
		undo.existed[addr] = existed
	}
	idx.balances[addr] += amount
	undo.entries = append(undo.entries, undoEntry{addr: addr, balanceDelta: int64(amount)})
}

func (idx *Index) debit(addr crypto.Address, amount uint64, undo *BlockUndo) error {
	if idx.balances[addr] < amount {
		return errs.Validationf(errs.ReasonInsufficientBalance, "insufficient balance for %x: have %d, need %d",
			addr.Payload, idx.balances[addr], amount)
	}
	if _, ok := undo.existed[addr]; !ok {
		_, existed := idx.balances[addr]
		undo.existed[addr] = existed
	}
	idx.balances[addr] -= amount
	undo.entries = append(undo.entries, undoEntry{addr: addr, balanceDelta: -int64(amount)})
	return nil
}

func (idx *Index) bumpNonce(addr crypto.Address, undo *BlockUndo) {
	before := idx.nonces[addr]
	idx.nonces[addr] = before + 1
	undo.entries = append(undo.entries, undoEntry{addr: addr, nonceBefore: before, nonceBumped: true})
}

// ApplyBlock debits each sender by amount+fee, credits each recipient by
// amount, credits the coinbase recipient by reward+sum(fees), and increments
// each sender's nonce, per spec.md §4.3. KindGovernance transactions are
// skipped entirely — no debit, credit, or nonce bump — mirroring
// validation.ContextualTx and the mempool's own bookkeeping, since a
// governance transaction carries no value transfer and is authorized by the
// GovernanceSigner rather than by balance/nonce state. It fails — without
// mutating anything, via unwindLocked — on negative balance or nonce
// mismatch, returning an *errs.Error of Kind Validation: per spec.md §4.5,
// cumulative effects across a block's own transactions can only be observed
// by actually applying them in order, so this walk is itself the contextual
// check for a block body, not a replay of an already-trusted invariant. A
// block from a malicious or buggy peer is expected to fail here from time
// to time; it is not evidence of local state corruption.
func (idx *Index) ApplyBlock(block *chainutil.Block, reward uint64) (*BlockUndo, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	undo := &BlockUndo{existed: make(map[crypto.Address]bool)}
	var totalFees uint64

	for i, tx := range block.Transactions {
		if i == 0 {
			// Coinbase: credited below once totalFees is known.
			continue
		}
		if tx.Kind == chainutil.KindGovernance {
			// Governance transactions carry no value transfer and are
			// authorized directly by the GovernanceSigner (see
			// validation.ContextualTx), so they never touch a balance or
			// nonce here either.
			continue
		}
		if idx.nonces[tx.Sender] != tx.Nonce {
			idx.unwindLocked(undo)
			return nil, errs.Validationf(errs.ReasonNonceMismatch, "nonce mismatch for %x: have %d, tx has %d",
				tx.Sender.Payload, idx.nonces[tx.Sender], tx.Nonce)
		}
		if tx.Amount > math.MaxUint64-tx.Fee {
			idx.unwindLocked(undo)
			return nil, errs.Validationf(errs.ReasonInvalidAmount, "amount %d plus fee %d overflows a 64-bit balance",
				tx.Amount, tx.Fee)
		}
		if err := idx.debit(tx.Sender, tx.Amount+tx.Fee, undo); err != nil {
			idx.unwindLocked(undo)
			return nil, err
		}
		idx.credit(tx.Recipient, tx.Amount, undo)
		idx.bumpNonce(tx.Sender, undo)
		totalFees += tx.Fee
	}

	coinbase := block.Coinbase()
	if coinbase != nil {
		idx.credit(coinbase.Recipient, reward+totalFees, undo)
	}

	return undo, nil
}

// unwindLocked reverts partially-applied undo entries; idx.mu must already
// be held for writing.
func (idx *Index) unwindLocked(undo *BlockUndo) {
	for i := len(undo.entries) - 1; i >= 0; i-- {
		e := undo.entries[i]
		if e.nonceBumped {
			idx.nonces[e.addr] = e.nonceBefore
			continue
		}
		if e.balanceDelta >= 0 {
			idx.balances[e.addr] -= uint64(e.balanceDelta)
		} else {
			idx.balances[e.addr] += uint64(-e.balanceDelta)
		}
	}
}

// RevertBlock undoes exactly the effects ApplyBlock recorded in undo,
// restoring the pre-application state including removing map entries for
// addresses that didn't previously exist, per spec.md §8's identity law.
func (idx *Index) RevertBlock(undo *BlockUndo) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := len(undo.entries) - 1; i >= 0; i-- {
		e := undo.entries[i]
		if e.nonceBumped {
			idx.nonces[e.addr] = e.nonceBefore
			if e.nonceBefore == 0 {
				delete(idx.nonces, e.addr)
			}
			continue
		}
		if e.balanceDelta >= 0 {
			idx.balances[e.addr] -= uint64(e.balanceDelta)
		} else {
			idx.balances[e.addr] += uint64(-e.balanceDelta)
		}
	}
	for addr, existed := range undo.existed {
		if !existed && idx.balances[addr] == 0 {
			delete(idx.balances, addr)
		}
	}
}

// Snapshot returns a deep copy of the current balances and nonces, used by
// the single writer to hand a consistent read-only view to concurrent
// queries without holding idx.mu for the query's duration (spec.md §5).
func (idx *Index) Snapshot() (balances map[crypto.Address]uint64, nonces map[crypto.Address]uint64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	balances = make(map[crypto.Address]uint64, len(idx.balances))
	for k, v := range idx.balances {
		balances[k] = v
	}
	nonces = make(map[crypto.Address]uint64, len(idx.nonces))
	for k, v := range idx.nonces {
		nonces[k] = v
	}
	return balances, nonces
}
