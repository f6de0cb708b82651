// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "github.com/aix-network/aixd/chaincfg"

// CalcBlockSubsidy implements spec.md §4.8's subsidy schedule: the reward
// halves every HALVING_INTERVAL blocks, floors at zero once fully halved
// away, and is additionally capped so the last few blocks before MAX_SUPPLY
// never mint past the cap. Grounded on the teacher's subsidy.go shape
// (successive right-shift per halving, symmetrical with its test vectors),
// simplified because this spec has no stake-vs-work subsidy split.
func CalcBlockSubsidy(params *chaincfg.Params, height, circulatingSupply uint64) uint64 {
	if params.HalvingInterval == 0 {
		return 0
	}
	halvings := height / params.HalvingInterval
	var reward uint64
	if halvings < 64 {
		reward = params.InitialReward >> halvings
	}
	if circulatingSupply >= params.MaxSupply {
		return 0
	}
	if remaining := params.MaxSupply - circulatingSupply; reward > remaining {
		reward = remaining
	}
	return reward
}
