// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"time"

	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/errs"
	"github.com/aix-network/aixd/mempool"
	"github.com/decred/dcrd/dcrutil/v4"
)

// haltingResult turns err into the Result the writer's reply channel
// should carry, plus whether the writer loop must halt afterward. Per
// spec.md §7, a State-kind error (a broken local invariant, e.g. the UTxO
// index refusing to replay a block it already validated) halts the writer
// rather than just rejecting the one call that tripped it.
func haltingResult(err error) (Result, bool) {
	if err == nil {
		return Accepted(), false
	}
	if e, ok := err.(*errs.Error); ok && e.Kind == errs.State {
		return Result{Status: StatusTransientError, Reason: e.Reason, Description: e.Description, RetryAfter: defaultRetryAfter}, true
	}
	return classify(err), false
}

// handleSubmitTx implements spec.md §4.4's submit_tx, run only on the
// writer goroutine. sourceURL is empty for a transaction submitted by a
// local client, or the originating peer's URL when relayed in from the
// network (excluded from the subsequent relay fan-out either way it
// isn't re-sent back to where it came from).
func (n *Node) handleSubmitTx(tx *chainutil.Transaction, sourceURL string) (Result, bool) {
	if err := n.pool.Admit(tx, mempool.Now()); err != nil {
		return classify(err), false
	}
	n.relay.Tx(sourceURL, tx)
	return Accepted(), false
}

// handleSubmitBlock implements spec.md §4.6's submit_block_from_peer:
// extend the best chain directly when possible, otherwise record the
// block as a fork candidate and attempt a reorg, per §9's cumulative-work
// tie-break.
func (n *Node) handleSubmitBlock(block *chainutil.Block, sourceURL string) (Result, bool) {
	err := n.chain.TryExtend(block, n.cache, n.gov, n.prot)
	if err == nil {
		return n.finalizeAcceptedBlock(block, sourceURL)
	}

	if !isStaleTipRejection(err) {
		n.penalizeOnBlockError(err, sourceURL)
		return haltingResult(err)
	}

	forkErr := n.chain.TryExtendFork(block, n.cache, n.gov, n.prot)
	if forkErr != nil {
		n.penalizeOnBlockError(forkErr, sourceURL)
		return haltingResult(forkErr)
	}

	now := time.Now().UnixNano()
	switchErr := n.chain.TrySwitchTo(block.Hash(), now, now, sourceURL, n)
	if switchErr != nil {
		// Either the fork still doesn't out-work the current tip, or the
		// switch itself failed validation partway (already penalized by
		// TrySwitchTo's own penalizer callback in that second case). Either
		// way the block itself was successfully recorded, so this isn't a
		// rejection from the submitter's point of view.
		return Accepted(), false
	}

	return n.finalizeAcceptedBlock(block, sourceURL)
}

// isStaleTipRejection reports whether err is TryExtend's specific "this
// block doesn't extend the current best tip" rejection (as opposed to
// "already known" or a genuine validation failure), the one case
// handleSubmitBlock retries as a fork candidate.
func isStaleTipRejection(err error) bool {
	e, ok := err.(*errs.Error)
	return ok && e.Kind == errs.Consensus && e.Reason == errs.ReasonInvalidPrevHash
}

// penalizeOnBlockError docks the contributing peer's quality for a
// genuine validation/consensus failure, per spec.md §7 ("Validation,
// Consensus: reject payload + penalize peer"). A State error (a local
// replay failure) or an unknown-parent Consensus error isn't the peer's
// fault in the same way and isn't penalized here.
func (n *Node) penalizeOnBlockError(err error, sourceURL string) {
	e, ok := err.(*errs.Error)
	if !ok || sourceURL == "" {
		return
	}
	if e.Kind == errs.Validation || (e.Kind == errs.Consensus && e.Reason != errs.ReasonInvalidPrevHash) {
		n.PenalizePeer(sourceURL, e.Reason)
	}
}

// handleSync implements spec.md §4.12's periodic sync pass, run only on the
// writer goroutine: netsync.Syncer.Sync's block-download phase calls
// BlockChain.TryExtend/TryExtendFork/TrySwitchTo directly against n.chain,
// the same mutations handleSubmitBlock makes, so it shares this single
// writer rather than racing it from cmd/aixd's periodic loop. n.quit
// doubles as Sync's cancellation channel: a shutdown mid-sync aborts the
// pass cleanly instead of blocking Stop.
func (n *Node) handleSync(peers []string) (Result, bool) {
	if len(peers) == 0 {
		return Accepted(), false
	}

	syncErr := n.syncer.Sync(context.Background(), peers, n.quit)

	// Best-effort bookkeeping even on a partial failure: applyInOrder may
	// have connected a prefix of the downloaded chain before the error that
	// aborted it, so the tip (and therefore the mempool/persisted view) can
	// have moved regardless of syncErr.
	n.pool.RemoveForBlock(n.chain.Tip(), n.chain.UTxOView())
	n.miner.NotifyNewTip()
	if err := n.persistLocked(); err != nil {
		return haltingResult(err)
	}
	if syncErr != nil {
		return haltingResult(syncErr)
	}
	return Accepted(), false
}

// finalizeAcceptedBlock runs the bookkeeping every accepted block needs
// regardless of whether it extended the tip directly or arrived via a
// reorg: drop now-confirmed/now-invalid mempool entries, wake the miner
// onto the new tip, relay the block onward, and persist.
func (n *Node) finalizeAcceptedBlock(block *chainutil.Block, sourceURL string) (Result, bool) {
	n.pool.RemoveForBlock(block, n.chain.UTxOView())
	n.miner.NotifyNewTip()
	n.relay.Block(sourceURL, block)

	if n.log != nil {
		supply := dcrutil.Amount(n.chain.CirculatingSupply())
		n.log.Infof("accepted block %s at height %d, circulating supply now %s",
			block.Hash(), block.Index, supply)
	}

	if err := n.persistLocked(); err != nil {
		return haltingResult(err)
	}
	return Accepted(), false
}
