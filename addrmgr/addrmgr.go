// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr implements the peer registry (C9): known and connected
// peers, quality scoring, and subnet-diversity-aware candidate selection,
// per spec.md §4.9. Same package path as the teacher's own (empty)
// addrmgr nested-module stub, filled in fresh against this spec's
// PeerRecord shape (spec.md §3), grounded on the general known-address
// registry pattern in daglabs-btcd's addressmanager/server/rpc
// handle_get_peer_addresses.go (attempts/timestamps/success tracking per
// known address) and on decred/dcrd/container/apbf for a cheap candidate
// dedup pre-filter ahead of the full registry lookup.
package addrmgr

import (
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/decred/dcrd/container/apbf"
)

// PeerRecord is the registry's per-peer state, spec.md §3 verbatim.
type PeerRecord struct {
	URL           string
	IP            net.IP
	FirstSeen     int64
	LastSeen      int64
	SuccessCount  int
	FailureCount  int
	AvgResponseMS float64
	Quality       int
	IsBootstrap   bool
	Version       string
	ChainHeight   uint64
	BanUntil      int64
}

// Reliability returns success/total, or 1.0 for a peer with no history
// yet, so a fresh candidate isn't penalized before it's ever been tried.
func (r *PeerRecord) Reliability() float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(r.SuccessCount) / float64(total)
}

// qualityPenaltyPerMS and failureStreakPenalty tune the quality formula in
// spec.md §4.9: "quality = clamp(100*reliability - penalty(avg_response_ms)
// - failure_streak*k, 0, 100)". Values chosen so a 500ms average response
// costs 5 points and each point of sustained failure streak costs 4.
const (
	qualityPenaltyPerMS  = 0.01
	failureStreakPenalty = 4
)

func computeQuality(r *PeerRecord) int {
	q := 100*r.Reliability() - r.AvgResponseMS*qualityPenaltyPerMS - float64(r.FailureCount)*failureStreakPenalty
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return int(q)
}

// Registry is the peer store, keyed by URL. A single mutex guards it since
// lookups and scoring updates are small and infrequent relative to wire
// I/O, mirroring the teacher's own addrmgr's coarse-grained locking style.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*PeerRecord
	// seen pre-filters gossip-discovered candidate URLs so a flood of
	// repeated announcements doesn't repeatedly take the registry lock;
	// a false positive only costs a missed Upsert, never correctness,
	// since the authoritative membership test is always peers[url].
	seen *apbf.Filter
}

// New returns an empty registry sized for roughly maxCandidates distinct
// peer URLs ever seen across the node's lifetime.
func New(maxCandidates uint32) *Registry {
	return &Registry{
		peers: make(map[string]*PeerRecord),
		seen:  apbf.NewFilter(maxCandidates, 0.01),
	}
}

// Upsert records a newly discovered or re-announced candidate. Existing
// records are left untouched apart from LastSeen, so reputation history
// survives repeated gossip about the same peer.
func (a *Registry) Upsert(url string, ip net.IP, isBootstrap bool, now int64) *PeerRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen.Add([]byte(url))

	if rec, ok := a.peers[url]; ok {
		rec.LastSeen = now
		return rec
	}
	rec := &PeerRecord{
		URL:         url,
		IP:          ip,
		FirstSeen:   now,
		LastSeen:    now,
		IsBootstrap: isBootstrap,
		Quality:     100,
	}
	a.peers[url] = rec
	return rec
}

// KnownCandidate reports whether url has ever been seen before, via the
// APBF pre-filter, without taking the lock's slow path.
func (a *Registry) KnownCandidate(url string) bool {
	return a.seen.Contains([]byte(url))
}

// RecordSuccess updates a peer's history after a successful exchange that
// took rtMS milliseconds, per spec.md §4.9.
func (a *Registry) RecordSuccess(url string, rtMS float64, now int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.peers[url]
	if !ok {
		return
	}
	rec.SuccessCount++
	rec.FailureCount = 0 // a success resets the failure streak the quality penalty tracks
	rec.LastSeen = now
	if rec.AvgResponseMS == 0 {
		rec.AvgResponseMS = rtMS
	} else {
		const alpha = 0.2
		rec.AvgResponseMS = alpha*rtMS + (1-alpha)*rec.AvgResponseMS
	}
	rec.Quality = computeQuality(rec)
}

// RecordFailure updates a peer's history after a failed exchange.
func (a *Registry) RecordFailure(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.peers[url]
	if !ok {
		return
	}
	rec.FailureCount++
	rec.Quality = computeQuality(rec)
}

// Ban marks a peer unusable for candidate selection until banUntil.
func (a *Registry) Ban(url string, banUntil int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.peers[url]; ok {
		rec.BanUntil = banUntil
	}
}

// Score returns url's current quality, or -1 if url is unknown.
func (a *Registry) Score(url string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.peers[url]
	if !ok {
		return -1
	}
	return rec.Quality
}

// Get returns a copy-free pointer to url's record, or nil.
func (a *Registry) Get(url string) *PeerRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peers[url]
}

// All returns every known peer record, for diagnostics/get_peers.
func (a *Registry) All() []*PeerRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*PeerRecord, 0, len(a.peers))
	for _, rec := range a.peers {
		out = append(out, rec)
	}
	return out
}

// SubnetBucket returns the /24 bucket for an IPv4 address or the /64
// bucket for IPv6, per spec.md §4.9's subnet diversity rule.
func SubnetBucket(ip net.IP) string {
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(64, 128)).String()
}

// PickCandidates selects up to n non-banned, non-excluded peers ordered by
// descending quality, skipping a candidate once its subnet bucket has
// already contributed one pick — spec.md §4.9: "avoids multiple peers in
// the same /24 (IPv4) or /64 (IPv6) subnet" — unless there are too few
// distinct buckets to fill n, in which case the skipped same-bucket
// candidates fill the remainder (in quality order) rather than returning
// fewer peers than the caller needs.
func (a *Registry) PickCandidates(n int, exclude map[string]bool, now int64) []*PeerRecord {
	a.mu.Lock()
	candidates := make([]*PeerRecord, 0, len(a.peers))
	for url, rec := range a.peers {
		if exclude[url] || rec.BanUntil > now {
			continue
		}
		candidates = append(candidates, rec)
	}
	a.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Quality > candidates[j].Quality
	})

	usedBuckets := make(map[string]bool)
	picked := make([]*PeerRecord, 0, n)
	var deferred []*PeerRecord
	for _, rec := range candidates {
		if len(picked) >= n {
			break
		}
		bucket := SubnetBucket(rec.IP)
		if bucket != "" && usedBuckets[bucket] {
			deferred = append(deferred, rec)
			continue
		}
		usedBuckets[bucket] = true
		picked = append(picked, rec)
	}
	for _, rec := range deferred {
		if len(picked) >= n {
			break
		}
		picked = append(picked, rec)
	}
	return picked
}

// DiversityScore returns the fraction of the given peers occupying
// distinct subnet buckets, per spec.md §4.10's rebalancing criterion.
func DiversityScore(peers []*PeerRecord) float64 {
	if len(peers) == 0 {
		return 1.0
	}
	buckets := make(map[string]bool)
	for _, rec := range peers {
		buckets[SubnetBucket(rec.IP)] = true
	}
	return float64(len(buckets)) / float64(len(peers))
}

// OverRepresentedBucket returns the subnet bucket with the most entries
// among peers, for spec.md §4.10's "drop excess from over-represented
// buckets first" rebalancing rule. Returns "" if peers is empty.
func OverRepresentedBucket(peers []*PeerRecord) string {
	counts := make(map[string]int)
	for _, rec := range peers {
		counts[SubnetBucket(rec.IP)]++
	}
	var worst string
	var worstCount int
	for bucket, c := range counts {
		if c > worstCount {
			worst, worstCount = bucket, c
		}
	}
	return worst
}

// NormalizeURL trims surrounding whitespace and lower-cases the whole peer
// URL (path included) so discovery dedup isn't defeated by case
// differences alone.
func NormalizeURL(url string) string {
	return strings.ToLower(strings.TrimSpace(url))
}

// Candidate is a bare peer address as received over the wire via gossip
// (/peers/list, /peers/announce per spec.md §4.10), before it has ever been
// dialed. Kept in this package since it's the gossip wire shape the
// registry consumes, while the loop that drives bootstrap/gossip/rebalance
// against it lives in internal/discovery.
type Candidate struct {
	URL         string
	IP          string
	IsBootstrap bool
}
