// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peer implements the per-connection state machine and message
// propagation surface (C13), per spec.md §4.13. Grounded on
// daglabs-btcd's protocol/peer/peer.go for the "not ready until
// handshaked" gating pattern, generalized from that package's single
// atomic ready flag into the richer
// Handshaking -> Active -> (Syncing|Idle) -> Banned/Disconnected state
// machine spec.md names. Inbound dedup uses decred/dcrd/lru's bounded
// cache (the same dependency the teacher's go.mod already carries for
// dedup-shaped caching) rather than a hand-rolled map+eviction list.
package peer

import (
	"sync"
	"time"

	"github.com/aix-network/aixd/crypto"
	"github.com/decred/dcrd/lru"
	"github.com/decred/slog"
)

// State is a peer connection's position in spec.md §4.13's state machine.
type State int

const (
	StateHandshaking State = iota
	StateActive
	StateSyncing
	StateIdle
	StateBanned
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateSyncing:
		return "syncing"
	case StateIdle:
		return "idle"
	case StateBanned:
		return "banned"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is the minimal transport surface a Peer needs, implemented by
// *gorilla/websocket.Conn in production and a fake in tests.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// QualityTracker is the subset of addrmgr.Registry a Peer needs to
// penalize or reward its remote end, kept as an interface so tests don't
// need a real Registry.
type QualityTracker interface {
	RecordSuccess(url string, rtMS float64, now int64)
	RecordFailure(url string)
}

// Peer wraps one connection: its negotiated state, inbound dedup filter,
// and a bounded outbound send queue.
type Peer struct {
	URL      string
	conn     Conn
	quality  QualityTracker
	log      slog.Logger
	maxQueue int

	mu          sync.Mutex
	state       State
	version     uint32
	chainHeight uint64
	lastSeen    int64

	dedup *lru.Cache

	sendCh chan []byte
	quit   chan struct{}
	closed bool
}

// New returns a Peer in StateHandshaking, with an inbound dedup cache
// sized dedupCapacity and an outbound queue bounded at maxQueue, per
// spec.md §4.13's DEDUP_CAPACITY/MAX_PEER_QUEUE.
func New(url string, conn Conn, dedupCapacity, maxQueue int, quality QualityTracker, log slog.Logger) *Peer {
	return &Peer{
		URL:      url,
		conn:     conn,
		quality:  quality,
		log:      log,
		maxQueue: maxQueue,
		state:    StateHandshaking,
		dedup:    lru.NewCache(uint(dedupCapacity)),
		sendCh:   make(chan []byte, maxQueue),
		quit:     make(chan struct{}),
	}
}

// State returns the peer's current state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState transitions the peer to s.
func (p *Peer) SetState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// MarkHandshaked records the remote's advertised version/height and
// transitions Handshaking -> Active, per spec.md §4.13.
func (p *Peer) MarkHandshaked(version uint32, chainHeight uint64, now int64) {
	p.mu.Lock()
	p.version = version
	p.chainHeight = chainHeight
	p.lastSeen = now
	if p.state == StateHandshaking {
		p.state = StateActive
	}
	p.mu.Unlock()
}

// ChainHeight returns the remote's last-announced height.
func (p *Peer) ChainHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainHeight
}

// Touch records that a message was just exchanged, for idle eviction.
func (p *Peer) Touch(now int64) {
	p.mu.Lock()
	p.lastSeen = now
	p.mu.Unlock()
}

// LastSeen returns the last exchange time.
func (p *Peer) LastSeen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

// SeenContent reports whether hash has already been observed from any
// peer sharing this dedup cache's lifetime, recording it if not. Used to
// implement spec.md §4.13's "inbound dedup by content hash" ahead of
// relaying a tx or block further.
func (p *Peer) SeenContent(hash crypto.Hash) bool {
	if p.dedup.Contains(hash) {
		return true
	}
	p.dedup.Add(hash)
	return false
}

// Enqueue queues data for send, dropping the oldest queued message and
// penalizing the peer's quality on overflow, per spec.md §4.13: "overflow
// causes the oldest message to be dropped and the peer's quality
// penalized."
func (p *Peer) Enqueue(data []byte) {
	select {
	case p.sendCh <- data:
		return
	default:
	}

	select {
	case <-p.sendCh:
	default:
	}
	select {
	case p.sendCh <- data:
	default:
	}
	if p.quality != nil {
		p.quality.RecordFailure(p.URL)
	}
	if p.log != nil {
		p.log.Warnf("peer %s: send queue overflow, dropped oldest message", p.URL)
	}
}

// QueueLen returns the number of messages currently buffered for send, for
// diagnostics (get_stats's per-peer queue depth).
func (p *Peer) QueueLen() int {
	return len(p.sendCh)
}

// RunSender drains the outbound queue into the connection until Close is
// called or a write fails.
func (p *Peer) RunSender(binaryMessageType int) {
	for {
		select {
		case <-p.quit:
			return
		case data := <-p.sendCh:
			if err := p.conn.WriteMessage(binaryMessageType, data); err != nil {
				if p.log != nil {
					p.log.Warnf("peer %s: write failed: %v", p.URL, err)
				}
				p.Close()
				return
			}
		}
	}
}

// Close disconnects the peer, transitioning to StateDisconnected and
// stopping RunSender. Safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state = StateDisconnected
	p.mu.Unlock()

	close(p.quit)
	p.conn.Close()
}

// Ban transitions the peer to StateBanned and closes the connection.
func (p *Peer) Ban(reason string) {
	p.mu.Lock()
	p.state = StateBanned
	p.mu.Unlock()
	if p.log != nil {
		p.log.Warnf("peer %s: banned: %s", p.URL, reason)
	}
	p.Close()
}

// IdleTimeout reports whether the peer has been silent past maxIdle.
func (p *Peer) IdleTimeout(now int64, maxIdle time.Duration) bool {
	return now-p.LastSeen() > int64(maxIdle/time.Second)
}
