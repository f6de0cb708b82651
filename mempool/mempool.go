// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool implements the node's pending-transaction pool (C4):
// admission via the same stateless/contextual rules block validation uses,
// capacity-bounded eviction by (fee/size, arrival_time), and per-sender
// nonce-gap buffering. Grounded on the teacher's domain/mempool shape (a
// txid-keyed pool plus a "depends" side table for transactions that aren't
// yet minable), adapted from its UTXO/outpoint dependency tracking to this
// spec's simpler per-sender nonce sequencing.
package mempool

import (
	"math"
	"sync"
	"time"

	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// entry is a pooled transaction plus the bookkeeping its priority ordering
// and nonce sequencing need.
type entry struct {
	tx       *chainutil.Transaction
	arrival  int64 // UnixNano
	feeRate  float64
	heapIdx  int // index into Pool.evict, maintained by container/heap
	ready    bool
}

// Pool is the node's mempool. Safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	params *chaincfg.Params
	cache  *validation.SigCache
	gov    validation.GovernanceSigner
	prot   validation.ProtectedAddressPredicate
	view   validation.BalanceNonceView

	byID   map[crypto.Hash]*entry
	bySender map[crypto.Address]map[uint64]*entry // nonce -> entry, ready or buffered
	evict  evictHeap
}

// New creates an empty Pool validating against view (typically the chain
// store's current tip).
func New(params *chaincfg.Params, view validation.BalanceNonceView, cache *validation.SigCache, gov validation.GovernanceSigner, prot validation.ProtectedAddressPredicate) *Pool {
	return &Pool{
		params:   params,
		cache:    cache,
		gov:      gov,
		prot:     prot,
		view:     view,
		byID:     make(map[crypto.Hash]*entry),
		bySender: make(map[crypto.Address]map[uint64]*entry),
	}
}

// Len returns the number of transactions currently pooled (ready or
// nonce-gap buffered).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Has reports whether txid is already pooled, used by the propagation layer
// to avoid re-validating and re-announcing a transaction it's already seen.
func (p *Pool) Has(txid crypto.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[txid]
	return ok
}

// poolAdjustedBalance returns addr's chain-tip balance minus the
// amount+fee of every transaction from addr already pooled at a nonce less
// than upTo, reflecting the balance the pool has effectively already
// committed for addr's earlier pending transactions.
func (p *Pool) poolAdjustedBalance(addr crypto.Address, upTo uint64) uint64 {
	balance := p.view.Balance(addr)
	for nonce, e := range p.bySender[addr] {
		if nonce < upTo {
			spend := e.tx.Amount + e.tx.Fee
			if spend > balance {
				return 0
			}
			balance -= spend
		}
	}
	return balance
}

// Admit validates tx and adds it to the pool, per spec.md §4.4. arrival is
// the Unix-nanosecond time tx was received, used for eviction tie-breaking.
func (p *Pool) Admit(tx *chainutil.Transaction, arrival int64) error {
	if err := validation.StatelessTx(tx, p.params, p.cache); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	txid := tx.TxID()
	if _, exists := p.byID[txid]; exists {
		return errs.Validationf(errs.ReasonInvalidSignature, "transaction %s already pooled", txid)
	}

	if tx.Kind != chainutil.KindGovernance {
		expected := p.view.NextNonce(tx.Sender)
		if _, occupied := p.bySender[tx.Sender][tx.Nonce]; occupied {
			return errs.Validationf(errs.ReasonNonceMismatch, "sender %x already has a pooled tx at nonce %d",
				tx.Sender.Payload, tx.Nonce)
		}
		if tx.Nonce < expected {
			return errs.Validationf(errs.ReasonNonceMismatch, "sender %x nonce %d already spent (next is %d)",
				tx.Sender.Payload, tx.Nonce, expected)
		}
		gap := int(tx.Nonce - expected)
		if gap > p.params.MaxNonceGap {
			return errs.Validationf(errs.ReasonNonceMismatch, "sender %x nonce %d exceeds MAX_NONCE_GAP ahead of next_nonce %d",
				tx.Sender.Payload, tx.Nonce, expected)
		}

		if tx.Amount > math.MaxUint64-tx.Fee {
			return errs.Validationf(errs.ReasonInvalidAmount, "amount %d plus fee %d overflows a 64-bit balance",
				tx.Amount, tx.Fee)
		}
		have := p.poolAdjustedBalance(tx.Sender, tx.Nonce)
		need := tx.Amount + tx.Fee
		if have < need {
			return errs.Validationf(errs.ReasonInsufficientBalance, "sender %x has %d after pooled spends, needs %d",
				tx.Sender.Payload, have, need)
		}

		if p.prot != nil && p.prot.IsProtected(tx.Sender) && tx.Kind != chainutil.KindProtected {
			return errs.Validationf(errs.ReasonProtectedAddress, "sender %x is protected", tx.Sender.Payload)
		}
		if tx.Kind == chainutil.KindProtected {
			if p.gov == nil || !p.gov.VerifyGovernanceSignature(tx.Data, tx.Signature) {
				return errs.Validationf(errs.ReasonProtectedAddress, "protected transaction lacks governance authorization")
			}
		}
	} else if p.gov == nil || !p.gov.VerifyGovernanceSignature(tx.Data, tx.Signature) {
		return errs.Validationf(errs.ReasonInvalidSignature, "governance transaction not authorized")
	}

	e := &entry{
		tx:      tx,
		arrival: arrival,
		feeRate: tx.FeeRate(),
		ready:   tx.Kind == chainutil.KindGovernance || tx.Nonce == p.view.NextNonce(tx.Sender),
	}
	p.byID[txid] = e
	if tx.Kind != chainutil.KindGovernance {
		if p.bySender[tx.Sender] == nil {
			p.bySender[tx.Sender] = make(map[uint64]*entry)
		}
		p.bySender[tx.Sender][tx.Nonce] = e
	}
	p.evict.PushEntry(e)

	if len(p.byID) > p.params.MaxMempool {
		p.evictLowestLocked()
	}

	return nil
}

// evictLowestLocked removes the single lowest-priority entry, per spec.md
// §8's boundary behavior ("Mempool at capacity evicts exactly the
// lowest-priority entry"). p.mu must already be held.
func (p *Pool) evictLowestLocked() {
	if p.evict.Len() == 0 {
		return
	}
	victim := p.evict.PopLowest()
	p.removeEntryLocked(victim)
}

func (p *Pool) removeEntryLocked(e *entry) {
	delete(p.byID, e.tx.TxID())
	if e.tx.Kind != chainutil.KindGovernance {
		if m := p.bySender[e.tx.Sender]; m != nil {
			delete(m, e.tx.Nonce)
			if len(m) == 0 {
				delete(p.bySender, e.tx.Sender)
			}
		}
	}
	if e.heapIdx >= 0 {
		p.evict.Remove(e)
	}
}

// RemoveForBlock drops every transaction in block from the pool (it's now
// confirmed) and, per spec.md §4.4, any remaining transaction that new
// chain-tip state has made invalid: a nonce the chain has now consumed, or
// insufficient balance given the sender's new balance and earlier pooled
// spends. view must already reflect the post-block chain-tip state.
func (p *Pool) RemoveForBlock(block *chainutil.Block, view validation.BalanceNonceView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.view = view

	for _, tx := range block.Transactions {
		if tx.Kind == chainutil.KindCoinbase {
			continue
		}
		if e, ok := p.byID[tx.TxID()]; ok {
			p.removeEntryLocked(e)
		}
	}

	for sender, byNonce := range p.bySender {
		expected := view.NextNonce(sender)
		for nonce, e := range byNonce {
			if nonce < expected {
				p.removeEntryLocked(e)
				continue
			}
			have := p.poolAdjustedBalance(sender, nonce)
			if have < e.tx.Amount+e.tx.Fee {
				p.removeEntryLocked(e)
			}
		}
	}

	p.recomputeReadyLocked()
}

// recomputeReadyLocked recalculates which buffered entries are now at the
// front of their sender's contiguous nonce run, promoting them to ready.
func (p *Pool) recomputeReadyLocked() {
	for sender, byNonce := range p.bySender {
		next := p.view.NextNonce(sender)
		for {
			e, ok := byNonce[next]
			if !ok {
				break
			}
			e.ready = true
			next++
		}
	}
}

// Candidates returns up to limit ready transactions in (fee/size,
// arrival_time) priority order. A sender's transaction is taken only once
// its predecessor nonce is already in the returned set; after each such
// pick the scan restarts from the highest priority, so a successor that
// sorts ahead of its predecessor is still reached. Used by the miner to
// assemble a candidate block body (spec.md §4.8).
func (p *Pool) Candidates(limit int) []*chainutil.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recomputeReadyLocked()

	included := make(map[crypto.Address]uint64) // sender -> highest included nonce + 1
	var all []*entry
	for _, e := range p.byID {
		all = append(all, e)
	}
	sortByPriority(all)

	out := make([]*chainutil.Transaction, 0, limit)
	taken := make(map[*entry]bool)
	for i := 0; i < len(all); i++ {
		e := all[i]
		if len(out) >= limit {
			break
		}
		if taken[e] {
			continue
		}
		if e.tx.Kind == chainutil.KindGovernance {
			out = append(out, e.tx)
			taken[e] = true
			continue
		}
		if !e.ready {
			continue
		}
		next, seen := included[e.tx.Sender]
		if !seen {
			next = p.view.NextNonce(e.tx.Sender)
		}
		if e.tx.Nonce != next {
			continue
		}
		out = append(out, e.tx)
		included[e.tx.Sender] = next + 1
		taken[e] = true
		i = -1 // this sender's successor may sort earlier: rescan from the top
	}
	return out
}

// All returns every pooled transaction, ready or nonce-gap buffered, in no
// particular order. Used by the persistence layer to snapshot spec.md
// §4.7's Payload.Pending, which is the whole pool rather than just the
// subset Candidates would pick for a block body.
func (p *Pool) All() []*chainutil.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*chainutil.Transaction, 0, len(p.byID))
	for _, e := range p.byID {
		out = append(out, e.tx)
	}
	return out
}

// Now returns the current time as Unix nanoseconds, the arrival stamp
// callers pass to Admit.
func Now() int64 {
	return time.Now().UnixNano()
}
