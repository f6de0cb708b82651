// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	"net"
	"testing"
	"time"

	"github.com/aix-network/aixd/addrmgr"
)

func testConfig() Config {
	return Config{
		MaxPeersTotal:     10,
		MaxPeersPerIP:     1,
		MaxPeersPerSubnet: 2,
		MinDiversePeers:   0,
		RateLimitRPS:      5,
		BanDuration:       60 * time.Second,
	}
}

// TestAdmitRejectsOverSubnetCap implements spec.md §8 scenario 6
// (eclipse resistance) literally: max_peers_per_subnet=2, ten inbound
// peers from the same /24, at most 2 admitted.
func TestAdmitRejectsOverSubnetCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeersPerIP = 10
	m := New(cfg, addrmgr.New(100))

	admitted := 0
	for i := 0; i < 10; i++ {
		ip := net.ParseIP("203.0.113." + string(rune('0'+i)))
		if err := m.Admit(urlFor(i), ip, "", 0); err == nil {
			admitted++
		}
	}
	if admitted > 2 {
		t.Fatalf("admitted %d peers from one /24, want at most 2", admitted)
	}
}

func TestAdmitRejectsBannedPeer(t *testing.T) {
	m := New(testConfig(), addrmgr.New(100))
	if err := m.Admit("peer-a", net.ParseIP("10.0.0.1"), "", 0); err != nil {
		t.Fatalf("initial admit: %v", err)
	}
	m.Ban("peer-a", 0)
	if err := m.Admit("peer-a", net.ParseIP("10.0.0.1"), "", 1); err == nil {
		t.Fatal("expected banned peer to be rejected")
	}
}

func TestAllowMessageRateLimitsAndBans(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1
	m := New(cfg, addrmgr.New(100))
	if err := m.Admit("peer-a", net.ParseIP("10.0.0.1"), "", 0); err != nil {
		t.Fatalf("admit: %v", err)
	}

	allowedOnce := m.AllowMessage("peer-a", 0)
	if !allowedOnce {
		t.Fatal("first message should be allowed under a fresh token bucket")
	}
	// Burst of 2 should exhaust a limiter with RPS=1 quickly.
	var rejected bool
	for i := 0; i < 5; i++ {
		if !m.AllowMessage("peer-a", 0) {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("expected rate limit to eventually reject a burst")
	}

	if err := m.Admit("peer-a", net.ParseIP("10.0.0.1"), "", 0); err == nil {
		t.Fatal("expected peer banned after rate-limit trip to be rejected on re-admit")
	}
}

func TestAllowListBypassesCapsNotBans(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPeersTotal = 0
	cfg.MaxPeersPerIP = 0
	cfg.MaxPeersPerSubnet = 0
	cfg.AllowList = map[string]bool{"trusted-fp": true}
	m := New(cfg, addrmgr.New(100))
	cfg.MaxPeersTotal = 1
	m.cfg.MaxPeersTotal = 1

	if err := m.Admit("peer-a", net.ParseIP("10.0.0.1"), "", 0); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if err := m.Admit("peer-b", net.ParseIP("10.0.0.2"), "trusted-fp", 0); err != nil {
		t.Fatalf("allow-listed peer should bypass MAX_PEERS_TOTAL: %v", err)
	}

	m.Ban("peer-b", 0)
	if err := m.Admit("peer-b", net.ParseIP("10.0.0.2"), "trusted-fp", 0); err == nil {
		t.Fatal("allow-list must not bypass an active ban")
	}
}

func urlFor(i int) string {
	return "peer-" + string(rune('a'+i))
}
