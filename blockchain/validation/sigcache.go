// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2020 The Decred developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validation

import (
	"sync"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
)

// SigCache implements a signature-verification cache with a randomized
// entry eviction policy, adapted from the teacher's txscript/sigcache.go
// (there keyed by script sigHash; here keyed by txid, since every
// signature this node checks covers exactly one transaction's signing
// preimage). Usage mitigates a DoS wherein a peer sends transactions whose
// signatures are expensive to re-verify on every mempool/block revalidation
// pass, and it also means a transaction validated once in the mempool
// isn't re-verified when it's later seen inside a mined block.
type SigCache struct {
	sync.RWMutex
	valid      map[crypto.Hash]struct{}
	maxEntries uint
}

// NewSigCache creates a SigCache holding at most maxEntries entries.
func NewSigCache(maxEntries uint) *SigCache {
	return &SigCache{
		valid:      make(map[crypto.Hash]struct{}, maxEntries),
		maxEntries: maxEntries,
	}
}

// Exists reports whether txid's signature has already been found valid.
//
// NOTE: This function is safe for concurrent access. Readers won't be
// blocked unless there's a write in progress.
func (c *SigCache) Exists(txid crypto.Hash) bool {
	c.RLock()
	defer c.RUnlock()
	_, ok := c.valid[txid]
	return ok
}

// Add marks txid's signature as valid. If the cache is full, a random
// entry is evicted to make room, matching the teacher's "randomized entry
// eviction policy" rather than tracking LRU order, which this cache has no
// need to pay for.
//
// NOTE: This function is safe for concurrent access. It is the caller's
// responsibility to only add valid signatures.
func (c *SigCache) Add(txid crypto.Hash) {
	c.Lock()
	defer c.Unlock()

	if c.maxEntries == 0 {
		return
	}

	if uint(len(c.valid)) >= c.maxEntries {
		for k := range c.valid {
			delete(c.valid, k)
			break
		}
	}
	c.valid[txid] = struct{}{}
}

// VerifyTxSignature verifies tx's signature against pub, consulting and
// populating the cache so repeated verification of the same transaction
// (mempool admission, then block inclusion) only pays the ECDSA cost once.
func (c *SigCache) VerifyTxSignature(tx *chainutil.Transaction, pub *crypto.PublicKey) bool {
	txid := tx.TxID()
	if c.Exists(txid) {
		return true
	}
	if !tx.VerifySignature(pub) {
		return false
	}
	c.Add(txid)
	return true
}
