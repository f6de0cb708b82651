// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sync"

	"github.com/aix-network/aixd/blockchain/utxo"
	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// PeerPenalizer lets the chain store report a misbehaving remote peer
// without importing connmgr/addrmgr, which in turn depend on this package's
// read-only query surface — an interface parameter breaks the cycle the
// same way validation.BalanceNonceView does for utxo.Index.
type PeerPenalizer interface {
	PenalizePeer(peerID string, reason errs.Reason)
}

// BlockChain is the chain store (C6): the authoritative, height-ordered
// sequence of accepted blocks, the derived UTxO index, and fork choice.
// Grounded on the teacher's blockchain.BlockChain for the overall shape —
// a hash-indexed blockNode graph plus a "best chain" pointer — with every
// stake/vote concern removed since this spec is pure proof-of-work.
//
// BlockChain has no internal write concurrency of its own: spec.md §5
// assigns exclusive mutation rights to a single-writer actor
// (internal/node), so the methods here assume the caller serializes calls
// that mutate the best chain. Read-only queries remain safe for concurrent
// callers via the embedded RWMutex.
type BlockChain struct {
	params *chaincfg.Params

	mu      sync.RWMutex
	index   *BlockIndex
	utxoIdx *utxo.Index

	best        *blockNode
	heightIndex map[uint64]*blockNode // best-chain only
}

// New creates a BlockChain seeded with the network's genesis block.
func New(params *chaincfg.Params, genesis *chainutil.Block) *BlockChain {
	genesisNode := &blockNode{
		hash:       genesis.Hash(),
		height:     genesis.Index,
		timestamp:  genesis.Timestamp,
		difficulty: genesis.Difficulty,
		diffLevel:  float64(params.InitialDifficulty),
		work:       WorkForDifficulty(genesis.Difficulty),
		workSum:    WorkForDifficulty(genesis.Difficulty),
		block:      genesis,
	}

	bc := &BlockChain{
		params:      params,
		index:       newBlockIndex(),
		utxoIdx:     utxo.New(),
		best:        genesisNode,
		heightIndex: map[uint64]*blockNode{0: genesisNode},
	}
	bc.index.addNode(genesisNode)

	if coinbase := genesis.Coinbase(); coinbase != nil {
		// Genesis premine is credited directly; ApplyBlock's sender-side
		// rules don't apply to a block with no non-coinbase transactions.
		if _, err := bc.utxoIdx.ApplyBlock(genesis, coinbase.Amount); err != nil {
			panic("blockchain: invalid genesis block: " + err.Error())
		}
	}

	return bc
}

// Tip returns the best chain's current tip block.
func (bc *BlockChain) Tip() *chainutil.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.best.block
}

// Height returns the best chain's current height.
func (bc *BlockChain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.best.height
}

// BlockAt returns the best-chain block at height, or nil if height exceeds
// the current tip.
func (bc *BlockChain) BlockAt(height uint64) *chainutil.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	n, ok := bc.heightIndex[height]
	if !ok {
		return nil
	}
	return n.block
}

// BlockByHash returns a block the chain store has ever accepted, whether or
// not it's on the current best chain, or nil if unknown.
func (bc *BlockChain) BlockByHash(hash crypto.Hash) *chainutil.Block {
	n := bc.index.lookup(hash)
	if n == nil {
		return nil
	}
	return n.block
}

// Balance returns addr's balance as of the current best-chain tip.
func (bc *BlockChain) Balance(addr crypto.Address) uint64 {
	return bc.utxoIdx.Balance(addr)
}

// NextNonce returns addr's next expected nonce as of the current best-chain
// tip.
func (bc *BlockChain) NextNonce(addr crypto.Address) uint64 {
	return bc.utxoIdx.NextNonce(addr)
}

// UTxOView exposes the UTxO index as a validation.BalanceNonceView, letting
// the mempool and RPC layer validate against chain-tip state without this
// package leaking *utxo.Index's mutation methods.
func (bc *BlockChain) UTxOView() validation.BalanceNonceView {
	return bc.utxoIdx
}

// NextDifficulty returns the difficulty a block extending the current tip
// must satisfy, per spec.md §4.8.
func (bc *BlockChain) NextDifficulty() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.nextDifficultyLocked(bc.best)
}

func (bc *BlockChain) nextDifficultyLocked(tip *blockNode) int {
	difficulty, _ := bc.nextRetargetLocked(tip)
	return difficulty
}

// nextRetargetLocked computes both the rounded difficulty and the raw level
// a block extending tip must satisfy, walking tip's RetargetInterval-long
// ancestor window once rather than once per value a caller needs.
func (bc *BlockChain) nextRetargetLocked(tip *blockNode) (difficulty int, level float64) {
	nextHeight := tip.height + 1
	if nextHeight%bc.params.RetargetInterval != 0 || nextHeight == 0 {
		return tip.difficulty, tip.diffLevel
	}

	windowStart := tip
	for i := uint64(1); i < bc.params.RetargetInterval && windowStart.parent != nil; i++ {
		windowStart = windowStart.parent
	}
	newLevel := nextDifficultyLevel(bc.params, tip.diffLevel, windowStart.timestamp, tip.timestamp)
	return levelToDifficulty(newLevel), newLevel
}

// NextReward returns the coinbase subsidy (excluding fees) for a block
// extending the current tip, per spec.md §4.8.
func (bc *BlockChain) NextReward() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return CalcBlockSubsidy(bc.params, bc.best.height+1, bc.circulatingSupplyLocked())
}

// DiffLevel returns the tip's continuous difficulty level (the value
// retargeting actually adjusts; Difficulty is its rounded hex-leading-zero
// count), for the persistence layer's advisory Payload.DiffLevel field.
func (bc *BlockChain) DiffLevel() float64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.best.diffLevel
}

// CirculatingSupply returns the sum of every address's balance at the
// current best-chain tip, for get_stats and the persistence layer's
// advisory Payload.Stats field.
func (bc *BlockChain) CirculatingSupply() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.circulatingSupplyLocked()
}

func (bc *BlockChain) circulatingSupplyLocked() uint64 {
	balances, _ := bc.utxoIdx.Snapshot()
	var sum uint64
	for _, v := range balances {
		sum += v
	}
	return sum
}

// ParentInfo returns the validation.ParentInfo describing the current tip,
// for a caller about to validate a candidate block extending it.
func (bc *BlockChain) ParentInfo() *validation.ParentInfo {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return &validation.ParentInfo{
		Index:      bc.best.height,
		Hash:       bc.best.hash,
		Timestamp:  bc.best.timestamp,
		MedianTime: calcPastMedianTime(bc.best),
	}
}

// TryExtend validates and, if it extends the current best chain, applies
// candidate. It returns an error without mutating chain state on any
// rejection. Grounded on spec.md §4.6's "try_extend" operation and §9's
// single-writer ownership note.
func (bc *BlockChain) TryExtend(
	candidate *chainutil.Block,
	cache *validation.SigCache,
	gov validation.GovernanceSigner,
	protected validation.ProtectedAddressPredicate,
) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.index.has(candidate.Hash()) {
		return errs.Validationf(errs.ReasonInvalidPrevHash, "block %s already known", candidate.Hash())
	}
	if candidate.PreviousHash != bc.best.hash {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "block does not extend current tip")
	}

	return bc.connectLocked(candidate, bc.best, cache, gov, protected, true)
}

// connectLocked validates candidate against parent and, if onBestChain,
// applies it to the UTxO index and advances bc.best/bc.heightIndex. bc.mu
// must already be held for writing.
func (bc *BlockChain) connectLocked(
	candidate *chainutil.Block,
	parent *blockNode,
	cache *validation.SigCache,
	gov validation.GovernanceSigner,
	protected validation.ProtectedAddressPredicate,
	onBestChain bool,
) error {
	parentInfo := &validation.ParentInfo{
		Index:      parent.height,
		Hash:       parent.hash,
		Timestamp:  parent.timestamp,
		MedianTime: calcPastMedianTime(parent),
	}
	expectedDifficulty, expectedDiffLevel := bc.nextRetargetLocked(parent)
	circulating := bc.circulatingSupplyLocked()
	reward := CalcBlockSubsidy(bc.params, parent.height+1, circulating)

	if err := validation.Block(candidate, parentInfo, expectedDifficulty, nowUnix(), bc.params, reward, cache, gov, protected); err != nil {
		return err
	}

	if onBestChain {
		// The returned undo record isn't retained here: a reorg
		// (TrySwitchTo) rebuilds state by replay rather than by unwinding
		// undo records, and the database package persists whole chain
		// records, not undo logs.
		if _, err := bc.utxoIdx.ApplyBlock(candidate, reward); err != nil {
			// ApplyBlock's own walk is the contextual balance/nonce check for
			// this block body (see its doc comment), so a failure here is an
			// ordinary rejection of a bad block, not a local invariant
			// violation: propagate the Validation-kind error as-is so
			// handlers.go penalizes the sending peer instead of halting the
			// writer. Anything that isn't already a classified error would be
			// a genuine surprise worth halting over.
			if _, ok := err.(*errs.Error); ok {
				return err
			}
			return errs.New(errs.State, errs.ReasonUnrecoverable, "apply block: %v", err)
		}
	}

	work := WorkForDifficulty(candidate.Difficulty)
	node := &blockNode{
		parent:     parent,
		hash:       candidate.Hash(),
		height:     candidate.Index,
		timestamp:  candidate.Timestamp,
		difficulty: candidate.Difficulty,
		diffLevel:  expectedDiffLevel,
		work:       work,
		workSum:    new(big.Int).Add(parent.workSum, work),
		block:      candidate,
	}
	bc.index.addNode(node)

	if onBestChain {
		bc.best = node
		bc.heightIndex[node.height] = node
	}

	return nil
}

// TryExtendFork records a validated block that does NOT extend the current
// best chain, without mutating the UTxO index, so it becomes available for
// a later TrySwitchTo once its branch accumulates more work. Grounded on
// spec.md §4.6's fork-tracking requirement ("store alternative chains up to
// MAX_REORG_DEPTH").
func (bc *BlockChain) TryExtendFork(
	candidate *chainutil.Block,
	cache *validation.SigCache,
	gov validation.GovernanceSigner,
	protected validation.ProtectedAddressPredicate,
) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.index.has(candidate.Hash()) {
		return errs.Validationf(errs.ReasonInvalidPrevHash, "block %s already known", candidate.Hash())
	}
	parent := bc.index.lookup(candidate.PreviousHash)
	if parent == nil {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "parent %s unknown", candidate.PreviousHash)
	}

	return bc.connectLocked(candidate, parent, cache, gov, protected, false)
}

// TrySwitchTo reorganizes the best chain onto forkTip, per spec.md §4.6 and
// §9's pinned tie-break ("most cumulative work; on an exact tie, the chain
// whose tip block was received earliest wins"). tipArrival/bestArrival are
// Unix-nanosecond arrival timestamps used only to break an exact work tie.
// On any mid-switch failure the UTxO index is rolled back to its
// pre-switch state and the caller's penalizer is invoked for the
// contributing peer, leaving the current best chain untouched.
func (bc *BlockChain) TrySwitchTo(forkTip crypto.Hash, tipArrival int64, bestArrival int64, badPeer string, penalizer PeerPenalizer) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	newTip := bc.index.lookup(forkTip)
	if newTip == nil {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "fork tip %s unknown", forkTip)
	}

	cmp := newTip.workSum.Cmp(bc.best.workSum)
	if cmp < 0 || (cmp == 0 && tipArrival >= bestArrival) {
		return errs.Validationf(errs.ReasonInvalidPrevHash, "fork tip does not have more cumulative work")
	}

	fork, err := findForkPoint(newTip, bc.best)
	if err != nil {
		return err
	}
	if bc.best.height-fork.height > bc.params.MaxReorgDepth {
		return errs.New(errs.State, errs.ReasonReorgTooDeep, "reorg depth %d exceeds MAX_REORG_DEPTH %d",
			bc.best.height-fork.height, bc.params.MaxReorgDepth)
	}

	// BlockChain retains no undo log past the block that originally
	// connected it (and the database package stores none either), so a
	// reorg rebuilds the UTxO index by replaying from
	// genesis up to the fork point and then forward along the new best
	// chain, rather than unwinding the old one block by block. If
	// replay fails partway, bc.utxoIdx/bc.best/bc.heightIndex are left
	// untouched — the switch simply doesn't happen.
	forkPath := chainToFork(newTip, fork)
	replayed := utxo.New()
	ancestors := ancestorChain(fork)
	for _, n := range ancestors {
		if _, err := replayed.ApplyBlock(n.block, subsidyFor(bc.params, n)); err != nil {
			return errs.New(errs.State, errs.ReasonUnrecoverable, "replay to fork point: %v", err)
		}
	}
	for i := len(forkPath) - 1; i >= 0; i-- {
		n := forkPath[i]
		if _, err := replayed.ApplyBlock(n.block, subsidyFor(bc.params, n)); err != nil {
			reason := errs.ReasonInvalidCoinbase
			if e, ok := err.(*errs.Error); ok {
				reason = e.Reason
			}
			if penalizer != nil && badPeer != "" {
				penalizer.PenalizePeer(badPeer, reason)
			}
			return errs.New(errs.Consensus, reason, "reorg apply failed at height %d: %v", n.height, err)
		}
	}

	bc.utxoIdx = replayed
	bc.best = newTip
	bc.heightIndex = make(map[uint64]*blockNode, newTip.height+1)
	for _, n := range ancestors {
		bc.heightIndex[n.height] = n
	}
	for i := len(forkPath) - 1; i >= 0; i-- {
		bc.heightIndex[forkPath[i].height] = forkPath[i]
	}
	bc.heightIndex[newTip.height] = newTip

	return nil
}

func subsidyFor(params *chaincfg.Params, n *blockNode) uint64 {
	if n.height == 0 {
		if cb := n.block.Coinbase(); cb != nil {
			return cb.Amount
		}
		return 0
	}
	var fees uint64
	for _, tx := range n.block.Transactions[1:] {
		if tx.Kind != chainutil.KindGovernance {
			fees += tx.Fee
		}
	}
	if cb := n.block.Coinbase(); cb != nil && cb.Amount >= fees {
		return cb.Amount - fees
	}
	return 0
}

// ancestorChain returns node and every ancestor up to and including the
// genesis node, ordered from genesis to node.
func ancestorChain(node *blockNode) []*blockNode {
	var rev []*blockNode
	for n := node; n != nil; n = n.parent {
		rev = append(rev, n)
	}
	out := make([]*blockNode, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// chainToFork returns the path from tip back to, but excluding, fork,
// ordered from tip to fork+1.
func chainToFork(tip, fork *blockNode) []*blockNode {
	var path []*blockNode
	for n := tip; n != fork; n = n.parent {
		path = append(path, n)
	}
	return path
}

// findForkPoint walks both chains back to their common ancestor.
func findForkPoint(a, b *blockNode) (*blockNode, error) {
	seen := make(map[crypto.Hash]*blockNode)
	for n := a; n != nil; n = n.parent {
		seen[n.hash] = n
	}
	for n := b; n != nil; n = n.parent {
		if _, ok := seen[n.hash]; ok {
			return n, nil
		}
	}
	return nil, errs.New(errs.State, errs.ReasonUnrecoverable, "no common ancestor between competing chains")
}
