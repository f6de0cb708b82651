// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"fmt"
	"time"

	"github.com/aix-network/aixd/crypto"
)

// NetworkID values are exchanged in the wire handshake (spec.md §6); a
// mismatch triggers immediate disconnect.
const (
	mainnetID uint32 = 0x41495830 // "AIX0"
	testnetID uint32 = 0x41495831 // "AIX1"
	devnetID  uint32 = 0x41495832 // "AIX2"
)

// MainNetParams is the production network.
var MainNetParams = Params{
	Name:           "mainnet",
	Network:        crypto.Mainnet,
	NetworkID:      mainnetID,
	DefaultP2PPort: "9966",
	BootstrapPeers: []string{
		"seed1.aix.network:9966",
		"seed2.aix.network:9966",
		"seed3.aix.network:9966",
	},

	GenesisTimestamp: 1700000000,

	InitialDifficulty: 4,
	TargetInterval:    150 * time.Second,
	RetargetInterval:  2016,
	RetargetClamp:     4.0,
	MaxClockSkew:      2 * time.Hour,

	InitialReward:   50 * 1e8,
	HalvingInterval: 210000,
	MaxSupply:       21000000 * 1e8,
	MinFee:          1000,

	MaxBlockSize:  4 << 20, // 4 MiB
	MaxBlockTxs:   10000,
	MaxTxSize:     128 << 10, // 128 KiB
	MaxMempool:    50000,
	MaxReorgDepth: 100,
	MaxNonceGap:   4,

	MaxPeersTotal:     125,
	MaxPeersPerIP:     3,
	MaxPeersPerSubnet: 8,
	MinDiversePeers:   4,
	TargetPeers:       24,
	DiscoveryInterval: 30 * time.Second,
	PeerMaxIdle:       10 * time.Minute,
	PeerIOTimeout:     15 * time.Second,
	BanDuration:       24 * time.Hour,
	RateLimitRPS:      50,
	DedupCapacity:     50000,
	MaxPeerQueue:      1000,
	MaxInflightBlocks: 16,

	CheckpointInterval: 10000,
	MaxBackups:         5,
	BackupOnSave:       true,
}

// TestNetParams is the public test network: same shape as mainnet with a
// much lower initial difficulty so test miners make progress quickly.
var TestNetParams = Params{
	Name:           "testnet",
	Network:        crypto.Testnet,
	NetworkID:      testnetID,
	DefaultP2PPort: "19966",
	BootstrapPeers: []string{
		"testnet-seed1.aix.network:19966",
		"testnet-seed2.aix.network:19966",
	},

	GenesisTimestamp: 1700000000,

	InitialDifficulty: 2,
	TargetInterval:    60 * time.Second,
	RetargetInterval:  288,
	RetargetClamp:     4.0,
	MaxClockSkew:      2 * time.Hour,

	InitialReward:   50 * 1e8,
	HalvingInterval: 21000,
	MaxSupply:       21000000 * 1e8,
	MinFee:          100,

	MaxBlockSize:  4 << 20,
	MaxBlockTxs:   10000,
	MaxTxSize:     128 << 10,
	MaxMempool:    50000,
	MaxReorgDepth: 100,
	MaxNonceGap:   4,

	MaxPeersTotal:     125,
	MaxPeersPerIP:     3,
	MaxPeersPerSubnet: 8,
	MinDiversePeers:   4,
	TargetPeers:       24,
	DiscoveryInterval: 30 * time.Second,
	PeerMaxIdle:       10 * time.Minute,
	PeerIOTimeout:     15 * time.Second,
	BanDuration:       time.Hour,
	RateLimitRPS:      50,
	DedupCapacity:     50000,
	MaxPeerQueue:      1000,
	MaxInflightBlocks: 16,

	CheckpointInterval: 2000,
	MaxBackups:         5,
	BackupOnSave:       true,
}

// DevNetParams is for local development and the spec.md §8 end-to-end
// scenarios: a trivial difficulty, no bootstrap peers (a devnet node forms
// its chain alone or with peers named explicitly on the command line), and
// small limits so invariants like MAX_PEERS_PER_SUBNET are easy to exercise
// in a test with a handful of simulated peers.
var DevNetParams = Params{
	Name:           "devnet",
	Network:        crypto.Devnet,
	NetworkID:      devnetID,
	DefaultP2PPort: "19555",
	BootstrapPeers: nil,

	GenesisTimestamp: 1700000000,

	InitialDifficulty: 1,
	TargetInterval:    10 * time.Second,
	RetargetInterval:  20,
	RetargetClamp:     4.0,
	MaxClockSkew:      2 * time.Hour,

	InitialReward:   50,
	HalvingInterval: 150,
	MaxSupply:       21000000,
	MinFee:          1,

	MaxBlockSize:  1 << 20,
	MaxBlockTxs:   1000,
	MaxTxSize:     64 << 10,
	MaxMempool:    5000,
	MaxReorgDepth: 50,
	// MaxNonceGap is 0 on devnet: local/e2e testing wants strict nonce
	// contiguity rather than the buffering behavior mainnet/testnet allow.
	MaxNonceGap: 0,

	MaxPeersTotal:     50,
	MaxPeersPerIP:     3,
	MaxPeersPerSubnet: 2,
	MinDiversePeers:   2,
	TargetPeers:       8,
	DiscoveryInterval: 5 * time.Second,
	PeerMaxIdle:       time.Minute,
	PeerIOTimeout:     5 * time.Second,
	BanDuration:       time.Minute,
	RateLimitRPS:      50,
	DedupCapacity:     5000,
	MaxPeerQueue:      200,
	MaxInflightBlocks: 8,

	CheckpointInterval: 50,
	MaxBackups:         3,
	BackupOnSave:       true,
}

// ByName looks up a network's Params by its configuration-file name
// ("mainnet", "testnet", "devnet"), as used by internal/config's `network`
// option (spec.md §6).
func ByName(name string) (*Params, error) {
	switch name {
	case "mainnet":
		return &MainNetParams, nil
	case "testnet":
		return &TestNetParams, nil
	case "devnet":
		return &DevNetParams, nil
	default:
		return nil, fmt.Errorf("unrecognized network %q", name)
	}
}
