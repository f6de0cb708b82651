// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package relay implements the C13 propagation policy of spec.md §4.13:
// valid new blocks/txs are relayed to every other connected peer except
// the source, deduped by content hash, with per-peer backpressure handled
// by peer.Peer's own bounded send queue. Split out from package peer (the
// per-connection state machine) per SPEC_FULL.md's component table ("C13
// Propagation = peer + internal/relay"), since relay needs a view across
// all connected peers that a single Peer has no business holding.
package relay

import (
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/peer"
	"github.com/aix-network/aixd/wire"
)

// PeerSet is the live connection view relay broadcasts against, implemented
// by internal/node's connection table.
type PeerSet interface {
	ConnectedPeers() []*peer.Peer
}

// Relay fans a validated block or transaction out to every connected peer
// except the one it arrived from.
type Relay struct {
	peers PeerSet
}

// New returns a Relay broadcasting against peers.
func New(peers PeerSet) *Relay {
	return &Relay{peers: peers}
}

// Tx relays tx to every connected peer other than sourceURL (the empty
// string if tx originated locally, e.g. from submit_tx), skipping peers
// that have already seen this content hash.
func (r *Relay) Tx(sourceURL string, tx *chainutil.Transaction) {
	hash := tx.TxID()
	payload := wire.Marshal(wire.KindTx, &wire.Tx{Transaction: tx})
	r.broadcast(sourceURL, hash, payload)
}

// Block relays block to every connected peer other than sourceURL.
func (r *Relay) Block(sourceURL string, block *chainutil.Block) {
	hash := block.Hash()
	payload := wire.Marshal(wire.KindBlock, &wire.Block{Block: block})
	r.broadcast(sourceURL, hash, payload)
}

func (r *Relay) broadcast(sourceURL string, hash crypto.Hash, payload []byte) {
	for _, p := range r.peers.ConnectedPeers() {
		if p.URL == sourceURL {
			continue
		}
		if p.SeenContent(hash) {
			continue
		}
		p.Enqueue(payload)
	}
}
