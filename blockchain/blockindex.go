// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"sync"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
)

// medianTimeWindow is the number of preceding blocks CalcPastMedianTime
// looks at, grounded on the teacher's blockindex_test.go (which also fixes
// its window at 11 entries).
const medianTimeWindow = 11

// blockNode is an in-memory representation of a block's header plus the
// bookkeeping needed for fork choice, mirroring the teacher's blockNode
// with the stake-specific fields (ticket pool, vote bits) dropped.
type blockNode struct {
	parent *blockNode

	hash       crypto.Hash
	height     uint64
	timestamp  int64
	difficulty int

	// diffLevel is the continuous retarget accumulator (see difficulty.go)
	// as of this node, carried forward so the next retarget window doesn't
	// need to replay history to recover fractional precision.
	diffLevel float64

	// work is this node's own proof-of-work contribution; workSum is the
	// cumulative work of the chain ending at this node, used to compare
	// candidate tips per spec.md §9's pinned "most cumulative work" rule.
	work    *big.Int
	workSum *big.Int

	block *chainutil.Block
}

// calcPastMedianTime returns the median timestamp of the node itself and
// its preceding medianTimeWindow-1 ancestors, per spec.md §4.5's "greater
// than the median of the previous 11 block timestamps" rule. Grounded
// directly on the teacher's blockindex_test.go CalcPastMedianTime vectors.
func calcPastMedianTime(node *blockNode) int64 {
	timestamps := make([]int64, 0, medianTimeWindow)
	for n := node; n != nil && len(timestamps) < medianTimeWindow; n = n.parent {
		timestamps = append(timestamps, n.timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

// BlockIndex is the chain store's hash-addressable map of every block header
// it has ever accepted, including ones no longer on the best chain — needed
// so a later-arriving fork can be re-examined without re-fetching blocks the
// node already validated once.
type BlockIndex struct {
	mu    sync.RWMutex
	nodes map[crypto.Hash]*blockNode
}

func newBlockIndex() *BlockIndex {
	return &BlockIndex{nodes: make(map[crypto.Hash]*blockNode)}
}

func (bi *BlockIndex) addNode(n *blockNode) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	bi.nodes[n.hash] = n
}

func (bi *BlockIndex) lookup(hash crypto.Hash) *blockNode {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.nodes[hash]
}

func (bi *BlockIndex) has(hash crypto.Hash) bool {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	_, ok := bi.nodes[hash]
	return ok
}
