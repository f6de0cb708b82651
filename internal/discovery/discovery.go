// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package discovery drives the periodic bootstrap/gossip/rebalance loop of
// spec.md §4.10 (C10), on top of the registry and gossip primitives
// addrmgr provides (C9). Split out as its own package per SPEC_FULL.md's
// component table ("C10 Discovery = addrmgr (gossip) + internal/discovery")
// so addrmgr stays a pure, dependency-light registry that connmgr and peer
// can both import without pulling in the connection-driving loop.
package discovery

import (
	"context"
	"net"
	"time"

	"github.com/aix-network/aixd/addrmgr"
	"github.com/decred/slog"
)

// PeerLister is implemented by the wire-protocol client used to fetch a
// remote peer's known-peer list (/peers/list) and to push an announcement
// (/peers/announce), per spec.md §4.10. Kept narrow so this package never
// imports the peer/wire packages.
type PeerLister interface {
	RequestPeerList(ctx context.Context, url string) ([]addrmgr.Candidate, error)
	AnnouncePeer(ctx context.Context, url, newPeerURL string) error
}

// ConnectionManager is the connection surface discovery needs to top up
// and evict live connections. internal/node's peer table implements it;
// kept as an interface so this package does not import internal/node.
type ConnectionManager interface {
	ConnectedPeers() []*addrmgr.PeerRecord
	Connect(url string) error
	Disconnect(url string)
}

// Discovery runs the periodic bootstrap/gossip/rebalance loop of spec.md
// §4.10.
type Discovery struct {
	registry *addrmgr.Registry
	conns    ConnectionManager
	lister   PeerLister
	log      slog.Logger

	bootstrapPeers    []string
	targetPeers       int
	discoveryInterval time.Duration
	peerMaxIdle       time.Duration
}

// New wires a Discovery loop against an existing registry and connection
// manager.
func New(registry *addrmgr.Registry, conns ConnectionManager, lister PeerLister, log slog.Logger, bootstrapPeers []string, targetPeers int, discoveryInterval, peerMaxIdle time.Duration) *Discovery {
	return &Discovery{
		registry:          registry,
		conns:             conns,
		lister:            lister,
		log:               log,
		bootstrapPeers:    bootstrapPeers,
		targetPeers:       targetPeers,
		discoveryInterval: discoveryInterval,
		peerMaxIdle:       peerMaxIdle,
	}
}

// Bootstrap seeds the registry with the network's configured bootstrap
// list and attempts an initial connection to each, per spec.md §4.10: "On
// start, connect to the configured bootstrap list for the active network."
func (d *Discovery) Bootstrap(ctx context.Context, now int64) {
	for _, url := range d.bootstrapPeers {
		d.registry.Upsert(url, nil, true, now)
		if err := d.conns.Connect(url); err != nil {
			if d.log != nil {
				d.log.Warnf("discovery: bootstrap connect to %s: %v", url, err)
			}
			continue
		}
		d.pullPeerList(ctx, url, now)
	}
}

// pullPeerList requests url's known-peer list and upserts into the registry
// every candidate the registry's seen-filter does not already report as
// known; known candidates are skipped.
func (d *Discovery) pullPeerList(ctx context.Context, url string, now int64) {
	candidates, err := d.lister.RequestPeerList(ctx, url)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("discovery: request peer list from %s: %v", url, err)
		}
		return
	}
	for _, c := range candidates {
		norm := addrmgr.NormalizeURL(c.URL)
		if d.registry.KnownCandidate(norm) {
			continue
		}
		d.registry.Upsert(norm, parseIP(c.IP), c.IsBootstrap, now)
	}
}

// Run executes the discovery loop until ctx is cancelled, ticking every
// discoveryInterval: top up connections toward targetPeers, evict peers
// idle past peerMaxIdle, and rebalance subnet diversity.
func (d *Discovery) Run(ctx context.Context, now func() int64) {
	ticker := time.NewTicker(d.discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx, now())
		}
	}
}

func (d *Discovery) tick(ctx context.Context, nowTS int64) {
	connected := d.conns.ConnectedPeers()

	d.evictIdle(connected, nowTS)
	d.rebalance(connected, nowTS)
	d.topUp(ctx, nowTS)
}

func (d *Discovery) evictIdle(connected []*addrmgr.PeerRecord, nowTS int64) {
	maxIdle := int64(d.peerMaxIdle / time.Second)
	for _, rec := range connected {
		if nowTS-rec.LastSeen > maxIdle {
			d.conns.Disconnect(rec.URL)
			if d.log != nil {
				d.log.Infof("discovery: evicted idle peer %s", rec.URL)
			}
		}
	}
}

// rebalance drops one connection from the most over-represented subnet
// bucket whenever diversity has degraded, per spec.md §4.10's
// "rebalancing to preserve subnet diversity" rule.
func (d *Discovery) rebalance(connected []*addrmgr.PeerRecord, nowTS int64) {
	if len(connected) <= 1 {
		return
	}
	const healthyDiversity = 0.5
	if addrmgr.DiversityScore(connected) >= healthyDiversity {
		return
	}
	bucket := addrmgr.OverRepresentedBucket(connected)
	if bucket == "" {
		return
	}
	var worst *addrmgr.PeerRecord
	for _, rec := range connected {
		if addrmgr.SubnetBucket(rec.IP) != bucket {
			continue
		}
		if worst == nil || rec.Quality < worst.Quality {
			worst = rec
		}
	}
	if worst != nil {
		d.conns.Disconnect(worst.URL)
		if d.log != nil {
			d.log.Infof("discovery: rebalanced away from over-represented bucket %s, dropped %s", bucket, worst.URL)
		}
	}
}

func (d *Discovery) topUp(ctx context.Context, nowTS int64) {
	connected := d.conns.ConnectedPeers()
	if len(connected) >= d.targetPeers {
		return
	}
	exclude := make(map[string]bool, len(connected))
	for _, rec := range connected {
		exclude[rec.URL] = true
	}
	need := d.targetPeers - len(connected)
	for _, rec := range d.registry.PickCandidates(need, exclude, nowTS) {
		if err := d.conns.Connect(rec.URL); err != nil {
			d.registry.RecordFailure(rec.URL)
			continue
		}
		d.pullPeerList(ctx, rec.URL, nowTS)
	}
}

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}
