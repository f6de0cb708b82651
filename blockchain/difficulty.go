// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockchain implements the chain store (C6): the authoritative
// block sequence, the single-writer's block-connect pipeline, difficulty
// retargeting, and the subsidy schedule. Grounded on the teacher's
// blockchain/difficulty.go (retarget-with-clamp shape) and
// blockchain/subsidy.go (halving with a floor), and its
// blockchain/blockindex_test.go for the blockNode/BlockIndex/
// CalcPastMedianTime structuring this package reuses almost verbatim in
// spirit, with the decred-specific stake fields (tickets, vote bits)
// dropped since spec.md's Non-goals exclude any consensus beyond
// proof-of-work.
package blockchain

import (
	"math/big"

	"github.com/decred/dcrd/blockchain/standalone/v2"

	"github.com/aix-network/aixd/chaincfg"
)

// clamp bounds v to [1/factor, factor], matching spec.md §4.8's
// retargeting rule.
func clamp(v, factor float64) float64 {
	if factor < 1 {
		factor = 1
	}
	min := 1 / factor
	max := factor
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// nextDifficultyLevel implements spec.md §4.8's retarget formula literally:
// "new difficulty = old × clamp(TARGET_INTERVAL × N / Σ(timestamp_deltas),
// 1/RETARGET_CLAMP, RETARGET_CLAMP)." Difficulty's externally-visible unit
// is a leading-hex-zero count (spec.md §9's pinned resolution), so a
// continuous level is tracked between windows and only rounded to an
// integer digit count when stamping a block — otherwise a clamp factor
// too small to move a one-digit difficulty by a whole digit would be
// silently lost every window instead of accumulating.
func nextDifficultyLevel(params *chaincfg.Params, oldLevel float64, windowStart, windowEnd int64) float64 {
	actualTimespan := windowEnd - windowStart
	if actualTimespan <= 0 {
		actualTimespan = 1
	}
	targetTimespan := params.TargetInterval.Seconds() * float64(params.RetargetInterval)
	ratio := targetTimespan / float64(actualTimespan)
	ratio = clamp(ratio, params.RetargetClamp)
	newLevel := oldLevel * ratio
	if newLevel < 1 {
		newLevel = 1
	}
	return newLevel
}

// levelToDifficulty rounds a continuous difficulty level to the integer
// hex-leading-zero-digit count a block header actually carries, falling
// back to the easiest difficulty if the rounded value's implied target
// doesn't survive a round trip through compact-bits form.
func levelToDifficulty(level float64) int {
	d := int(level + 0.5)
	if d < 1 {
		d = 1
	}
	if !compactRoundTripsClean(d) {
		d = 1
	}
	return d
}

// targetForDifficulty returns the largest hash value (as a big-endian
// integer) that still satisfies d leading hex-zero nibbles: a hash with d
// such nibbles is bounded above by 16^(64-d), i.e. 2^(256-4d).
func targetForDifficulty(d int) *big.Int {
	bits := 256 - 4*d
	if bits < 0 {
		bits = 0
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(bits))
}

// compactRoundTripsClean bridges spec.md's hex-leading-zero difficulty unit
// to the teacher's compact-bits big-int math (standalone.BigToCompact/
// CompactToBig): it reports whether d's implied target still encodes to a
// positive value after being rounded to compact precision, the same
// mantissa-and-exponent form a real header's Bits field would carry. A
// difficulty whose target underflows to zero or negative once rounded this
// way is too extreme to ever be satisfied and must not be stamped on a
// header.
func compactRoundTripsClean(d int) bool {
	target := targetForDifficulty(d)
	compact := standalone.BigToCompact(target)
	return standalone.CompactToBig(compact).Sign() > 0
}

// WorkForDifficulty returns the cumulative-work contribution of a single
// block at the given difficulty, per spec.md's GLOSSARY: "2^difficulty".
// Difficulty is a hex-digit count, i.e. 16^difficulty distinct leading-zero
// patterns are excluded per digit, but spec.md's own formula for
// cumulative work literally says 2^difficulty — that literal formula is
// what's implemented and tested against.
//
// This uses math/big rather than the teacher's dcrd/math/uint256: the
// retrieved copy of that package is a bare go.mod with no source, so its
// method names/signatures can't be confirmed, and fork-choice arithmetic
// is too consensus-critical to guess at a third-party API shape. See
// DESIGN.md's dropped-dependency table.
func WorkForDifficulty(difficulty int) *big.Int {
	if difficulty < 0 {
		difficulty = 0
	}
	if difficulty > 4096 {
		difficulty = 4096
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(difficulty))
}
