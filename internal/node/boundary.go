// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"context"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
)

// GetBlockByHeight implements spec.md §6's get_block_by_height read
// operation. Reads never touch the writer goroutine: BlockChain's own
// RWMutex already makes this safe against concurrent Save/TryExtend calls.
func (n *Node) GetBlockByHeight(height uint64) *chainutil.Block {
	return n.chain.BlockAt(height)
}

// GetBlockByHash implements get_block_by_hash.
func (n *Node) GetBlockByHash(hash crypto.Hash) *chainutil.Block {
	return n.chain.BlockByHash(hash)
}

// GetTx implements get_tx: checked against the mempool first (most
// callers asking about a specific txid are polling a just-submitted
// transaction), then against every block on the best chain.
func (n *Node) GetTx(txid crypto.Hash) (*chainutil.Transaction, uint64, bool) {
	for _, tx := range n.pool.All() {
		if tx.TxID() == txid {
			return tx, 0, true
		}
	}
	for h := uint64(0); h <= n.chain.Height(); h++ {
		block := n.chain.BlockAt(h)
		for _, tx := range block.Transactions {
			if tx.TxID() == txid {
				return tx, block.Index, true
			}
		}
	}
	return nil, 0, false
}

// GetBalance implements get_balance.
func (n *Node) GetBalance(addr crypto.Address) uint64 {
	return n.chain.Balance(addr)
}

// GetNextNonce implements get_next_nonce.
func (n *Node) GetNextNonce(addr crypto.Address) uint64 {
	return n.chain.NextNonce(addr)
}

// Stats is get_stats's response shape, spanning chain, mempool, peer, and
// mining state. CirculatingSupply stays a raw base-unit integer here since
// this is the wire shape API callers decode; dcrutil.Amount formatting is
// applied only where a human reads the value directly, in the writer's
// block-acceptance and mined-block log lines.
type Stats struct {
	Height            uint64
	TipHash           crypto.Hash
	Difficulty        int
	CirculatingSupply uint64
	MempoolLen        int
	PeerCount         int
	Mining            bool
}

// GetStats implements get_stats.
func (n *Node) GetStats() Stats {
	return Stats{
		Height:            n.chain.Height(),
		TipHash:           n.chain.Tip().Hash(),
		Difficulty:        n.chain.NextDifficulty(),
		CirculatingSupply: n.chain.CirculatingSupply(),
		MempoolLen:        n.pool.Len(),
		PeerCount:         len(n.registry.All()),
		Mining:            n.miner.IsRunning(),
	}
}

// PeerInfo is one entry of get_peers's response.
type PeerInfo struct {
	URL         string
	State       string
	ChainHeight uint64
	QueueLen    int
	Quality     int
}

// GetPeers implements get_peers, reporting every peer currently connected
// (as opposed to every peer the registry merely knows about — that larger
// set is addrmgr's concern, used internally by discovery).
func (n *Node) GetPeers() []PeerInfo {
	connected := n.peers.all()
	out := make([]PeerInfo, 0, len(connected))
	for _, p := range connected {
		out = append(out, PeerInfo{
			URL:         p.URL,
			State:       p.State().String(),
			ChainHeight: p.ChainHeight(),
			QueueLen:    p.QueueLen(),
			Quality:     n.registry.Score(p.URL),
		})
	}
	return out
}

// GetMempool implements get_mempool.
func (n *Node) GetMempool() []*chainutil.Transaction {
	return n.pool.All()
}

// SubmitTx implements spec.md §4.4's submit_tx write operation for a
// transaction submitted directly by a local client, so the command carries
// an empty source URL (a transaction relayed from a peer arrives through
// the peer read loop instead of this method).
func (n *Node) SubmitTx(ctx context.Context, tx *chainutil.Transaction) Result {
	return n.send(command{kind: cmdSubmitTx, tx: tx})
}

// SubmitBlockFromPeer implements submit_block_from_peer. sourceURL is the
// peer the block arrived from (empty for a locally mined block), used for
// relay dedup and peer penalization on a validation failure.
func (n *Node) SubmitBlockFromPeer(ctx context.Context, block *chainutil.Block, sourceURL string) Result {
	return n.send(command{kind: cmdSubmitBlock, block: block, sourceURL: sourceURL})
}

// RequestMiningStart implements request_mining_start: mining pays
// minerAddr going forward. Idempotent if mining is already running,
// matching cpuminer.CPUMiner.Start's own idempotence.
func (n *Node) RequestMiningStart(minerAddr crypto.Address) Result {
	return n.send(command{kind: cmdMiningStart, minerAddr: minerAddr})
}

// RequestMiningStop implements request_mining_stop.
func (n *Node) RequestMiningStop() Result {
	return n.send(command{kind: cmdMiningStop})
}

// RunSync drives one netsync.Syncer.Sync pass against peers, routed through
// the writer goroutine: Sync's downloadBlocks phase calls BlockChain.
// TryExtend/TryExtendFork/TrySwitchTo directly, the same mutations
// SubmitBlockFromPeer makes, so it must run under the same single-writer
// exclusivity spec.md §5 requires rather than racing the writer from
// cmd/aixd's periodic sync loop.
func (n *Node) RunSync(peers []string) Result {
	return n.send(command{kind: cmdSync, peers: peers})
}
