// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package node wires every other package into the running full node and
// implements spec.md §5's concurrency model: "a single writer task owns
// mutations to the chain, UTxO index, and mempool; readers obtain
// consistent snapshots." Grounded on the teacher's blockManager (the
// decred/exccd component that historically played this same "owns the
// chain, talks to everyone else" role), adapted from its event-channel
// dispatch loop to this spec's narrower command/reply-channel shape: one
// goroutine (Node.run) ever calls BlockChain.TryExtend/TryExtendFork/
// TrySwitchTo, mempool.Pool.Admit/RemoveForBlock, or database.Store.Save;
// every other goroutine (peer readers, the miner, HTTP-ish boundary
// callers) reaches the chain only by sending a command and blocking on its
// reply channel.
package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aix-network/aixd/addrmgr"
	"github.com/aix-network/aixd/blockchain"
	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/connmgr"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/database"
	"github.com/aix-network/aixd/errs"
	"github.com/aix-network/aixd/internal/discovery"
	"github.com/aix-network/aixd/internal/mining/cpuminer"
	"github.com/aix-network/aixd/internal/relay"
	"github.com/aix-network/aixd/mempool"
	"github.com/aix-network/aixd/netsync"
	"github.com/aix-network/aixd/peer"
	"github.com/decred/go-socks/socks"
	"github.com/decred/slog"
)

// cmdQueueDepth bounds how many boundary calls may be in flight awaiting
// the writer goroutine at once before a sender blocks on the channel send
// itself; not one of spec.md §6's enumerated options since it's purely an
// implementation buffering knob, not an observable behavior.
const cmdQueueDepth = 256

// commandKind discriminates the handful of mutations the writer goroutine
// will perform; reads never go through this channel (BlockChain, Pool, and
// addrmgr.Registry are all already safe for concurrent readers).
type commandKind int

const (
	cmdSubmitTx commandKind = iota
	cmdSubmitBlock
	cmdMiningStart
	cmdMiningStop
	cmdSync
)

type command struct {
	kind      commandKind
	tx        *chainutil.Transaction
	block     *chainutil.Block
	sourceURL string
	minerAddr crypto.Address
	peers     []string
	reply     chan Result
}

// Node is the assembled full node: the chain store, mempool, miner,
// persistence, and networking stack, plus the single writer goroutine that
// owns every mutation to the first three.
type Node struct {
	params *chaincfg.Params
	log    slog.Logger

	chain  *blockchain.BlockChain
	pool   *mempool.Pool
	store  *database.Store
	miner  *cpuminer.CPUMiner
	cache  *validation.SigCache
	gov    validation.GovernanceSigner
	prot   validation.ProtectedAddressPredicate

	registry  *addrmgr.Registry
	connMgr   *connmgr.Manager
	relay     *relay.Relay
	syncer    *netsync.Syncer
	discovery *discovery.Discovery
	peers     *peerTable
	nodeURL   string
	selfNonce uint64
	proxy     *socks.Proxy // nil unless -proxy configures outbound peer dials through a SOCKS5 proxy

	cmds   chan command
	quit   chan struct{}
	done   chan struct{}
	halted int32 // atomic; set once by a State-error halt, never cleared
}

// Deps groups the already-constructed collaborators New assembles into a
// Node, so callers (cmd/aixd) build each piece with its own configuration
// slice and hand the finished objects here rather than Node re-deriving
// them from a single mega-config.
type Deps struct {
	Params        *chaincfg.Params
	Log           slog.Logger
	Chain         *blockchain.BlockChain
	Pool          *mempool.Pool
	Store         *database.Store
	Cache         *validation.SigCache
	Gov           validation.GovernanceSigner
	Prot          validation.ProtectedAddressPredicate
	Registry      *addrmgr.Registry
	ConnMgr       *connmgr.Manager
	NodeURL       string // this node's own advertised URL, sent in handshakes
	K             int
	HeadersPerReq uint32
	Proxy         *socks.Proxy // nil for a direct dial, non-nil to route outbound peer connections through a SOCKS5 proxy (-proxy)
}

// New assembles a Node from deps. The caller launches the writer with
// Start; the miner starts on RequestMiningStart. New performs no I/O.
func New(deps Deps) *Node {
	peers := newPeerTable()

	n := &Node{
		params:    deps.Params,
		log:       deps.Log,
		chain:     deps.Chain,
		pool:      deps.Pool,
		store:     deps.Store,
		cache:     deps.Cache,
		gov:       deps.Gov,
		prot:      deps.Prot,
		registry:  deps.Registry,
		connMgr:   deps.ConnMgr,
		peers:     peers,
		nodeURL:   deps.NodeURL,
		selfNonce: randomNonce(),
		proxy:     deps.Proxy,
		cmds:      make(chan command, cmdQueueDepth),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	n.relay = relay.New(peers)
	n.miner = cpuminer.New(deps.Params, deps.Chain, deps.Pool, n, deps.Log)
	n.syncer = netsync.New(deps.Params, deps.Chain, deps.Cache, n, n, deps.Log, deps.Gov, deps.Prot, deps.K, deps.HeadersPerReq, deps.Params.MaxInflightBlocks)
	n.discovery = discovery.New(deps.Registry, n, n, deps.Log, deps.Params.BootstrapPeers, deps.Params.TargetPeers, deps.Params.DiscoveryInterval, deps.Params.PeerMaxIdle)

	return n
}

// Start launches the writer goroutine. Discovery and periodic sync are
// driven separately by cmd/aixd's top-level loop, which also owns
// context cancellation across process shutdown.
func (n *Node) Start() {
	go n.run()
}

// Stop halts the writer goroutine and waits for it to exit, letting any
// in-flight command finish first.
func (n *Node) Stop() {
	close(n.quit)
	<-n.done
}

// run is the single writer: every mutation to n.chain, n.pool, or n.store
// happens here and nowhere else, satisfying spec.md §5's exclusivity
// requirement. A State-kind error halts the loop entirely (spec.md §7:
// "State errors: halt the writer, take a diagnostic snapshot, recover from
// the most recent checkpoint") rather than being answered like an ordinary
// rejection: this process's chain/UTxO/mempool are left exactly as they
// were at the moment of the broken invariant, and every subsequent write
// call fails fast with transient_error until an operator restarts the
// process, which re-runs cmd/aixd's normal startup recovery (database.
// Store.Load's own chain.dat -> backup -> checkpoint chain) from scratch.
func (n *Node) run() {
	defer close(n.done)
	for {
		select {
		case <-n.quit:
			return
		case cmd := <-n.cmds:
			result, halt := n.dispatch(cmd)
			cmd.reply <- result
			if halt {
				n.haltOnStateError(result)
				return
			}
		}
	}
}

func (n *Node) dispatch(cmd command) (result Result, halt bool) {
	switch cmd.kind {
	case cmdSubmitTx:
		return n.handleSubmitTx(cmd.tx, cmd.sourceURL)
	case cmdSubmitBlock:
		return n.handleSubmitBlock(cmd.block, cmd.sourceURL)
	case cmdMiningStart:
		n.miner.SetMinerAddress(cmd.minerAddr)
		n.miner.Start()
		return Accepted(), false
	case cmdMiningStop:
		n.miner.Stop()
		return Accepted(), false
	case cmdSync:
		return n.handleSync(cmd.peers)
	default:
		return Result{Status: StatusTransientError, Description: "unknown command"}, false
	}
}

// haltOnStateError implements the diagnostic half of spec.md §7's
// State-error recovery: the writer loop has already returned by the time
// this runs, so it logs the broken invariant and confirms Store.Load can
// still produce a record from chain.dat, a backup or a checkpoint
// (without applying it in-process — see run's
// doc comment), leaving the authoritative recovery to the next process
// start.
func (n *Node) haltOnStateError(result Result) {
	atomic.StoreInt32(&n.halted, 1)
	if n.log != nil {
		n.log.Errorf("writer halted on state error: %s: %s (chain height %d, tip %s)",
			result.Reason, result.Description, n.chain.Height(), n.chain.Tip().Hash())
	}
	if _, recoveredFrom, err := n.store.Load(); err != nil {
		if n.log != nil {
			n.log.Errorf("checkpoint recovery unavailable, node requires manual intervention: %v", err)
		}
	} else if n.log != nil {
		n.log.Infof("confirmed recovery is possible from %s; restart the process to resume", recoveredFrom)
	}
}

// send dispatches cmd to the writer goroutine and blocks for its reply,
// returning a transient_error Result immediately if the writer has
// already halted or stopped rather than blocking forever.
func (n *Node) send(cmd command) Result {
	if atomic.LoadInt32(&n.halted) != 0 {
		return Result{Status: StatusTransientError, Reason: errs.ReasonUnrecoverable, Description: "writer halted on a state error, awaiting restart", RetryAfter: defaultRetryAfter}
	}
	cmd.reply = make(chan Result, 1)
	select {
	case n.cmds <- cmd:
	case <-n.quit:
		return Result{Status: StatusTransientError, Reason: errs.ReasonUnrecoverable, Description: "node is shutting down", RetryAfter: defaultRetryAfter}
	}
	select {
	case r := <-cmd.reply:
		return r
	case <-n.quit:
		return Result{Status: StatusTransientError, Reason: errs.ReasonUnrecoverable, Description: "node is shutting down", RetryAfter: defaultRetryAfter}
	}
}

// SubmitMinedBlock implements cpuminer.BlockSubmitter, routing the miner's
// solved block through the same single-writer path as a peer-supplied
// block.
func (n *Node) SubmitMinedBlock(block *chainutil.Block) error {
	result := n.SubmitBlockFromPeer(context.Background(), block, "")
	if result.Status != StatusAccepted {
		return fmt.Errorf("%s: %s", result.Status, result.Description)
	}
	return nil
}

// Bootstrap implements spec.md §4.10's "on start, connect to the
// configured bootstrap list" step, delegating straight to the assembled
// Discovery loop. Doesn't touch the writer goroutine: discovery only
// mutates the registry and live connection set, both already safe for
// concurrent use independent of n.cmds.
func (n *Node) Bootstrap(ctx context.Context, now int64) {
	n.discovery.Bootstrap(ctx, now)
}

// RunDiscovery runs the periodic discovery tick (spec.md §4.10) until ctx
// is cancelled. Intended to be launched in its own goroutine by cmd/aixd
// alongside the periodic sync loop.
func (n *Node) RunDiscovery(ctx context.Context, now func() int64) {
	n.discovery.Run(ctx, now)
}

// PenalizePeer implements blockchain.PeerPenalizer: a peer that contributed
// an invalid block to a reorg attempt has its registry quality docked, and
// a Consensus-grade offense (bad coinbase, bad difficulty) additionally
// trips connmgr's exponential ban back-off, per spec.md §4.11/§7 ("reject
// payload + penalize peer").
func (n *Node) PenalizePeer(peerID string, reason errs.Reason) {
	if peerID == "" {
		return
	}
	n.registry.RecordFailure(peerID)
	switch reason {
	case errs.ReasonInvalidCoinbase, errs.ReasonInvalidDifficulty, errs.ReasonInvalidMerkleRoot, errs.ReasonInvalidPrevHash:
		n.connMgr.Ban(peerID, time.Now().Unix())
	}
}
