// Copyright (c) 2024 The aixd developers
// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the per-network parameters a node is configured
// with: address prefix, genesis block, bootstrap peer list, and the
// consensus/economic constants spec.md §6's Configuration section
// enumerates. Grounded on the teacher's mainnetparams.go/testnetparams.go/
// regnetparams.go trio — same per-field shape, renamed networks and
// constants to this spec's economics.
package chaincfg

import (
	"time"

	"github.com/aix-network/aixd/crypto"
)

// Params groups every network-specific constant a node needs, mirroring
// the teacher's *chaincfg.Params aggregate.
type Params struct {
	Name      string
	Network   crypto.Network
	NetworkID uint32
	DefaultP2PPort string

	// Bootstrap peers dialed on first start (spec.md §4.10).
	BootstrapPeers []string

	// Genesis.
	GenesisTimestamp int64

	// Proof-of-work / retargeting (spec.md §4.8, §6).
	InitialDifficulty int
	TargetInterval    time.Duration
	RetargetInterval  uint64
	RetargetClamp     float64
	MaxClockSkew      time.Duration

	// Subsidy / economics (spec.md §4.8, §6).
	InitialReward    uint64
	HalvingInterval  uint64
	MaxSupply        uint64
	MinFee           uint64

	// Block/tx/mempool/reorg limits (spec.md §6).
	MaxBlockSize   int
	MaxBlockTxs    int
	MaxTxSize      int
	MaxMempool     int
	MaxReorgDepth  uint64
	// MaxNonceGap bounds how far ahead of next_nonce(sender) a future tx may
	// be buffered pending its predecessors (spec.md §4.4: "up to a small
	// gap"). Zero means only the exact next nonce is accepted.
	MaxNonceGap int

	// Peer/network limits (spec.md §6).
	MaxPeersTotal      int
	MaxPeersPerIP      int
	MaxPeersPerSubnet  int
	MinDiversePeers    int
	TargetPeers        int
	DiscoveryInterval  time.Duration
	PeerMaxIdle        time.Duration
	PeerIOTimeout      time.Duration
	BanDuration        time.Duration
	RateLimitRPS       float64
	DedupCapacity      int
	MaxPeerQueue       int
	MaxInflightBlocks  int

	// Persistence (spec.md §6).
	CheckpointInterval uint64
	MaxBackups         int
	BackupOnSave       bool
}

// Params deliberately holds no cached genesis block: NewGenesisBlock
// (genesis.go) derives one on demand from GenesisTimestamp plus a caller-
// supplied premine recipient, keeping this file free of a chainutil
// dependency.
