// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"testing"
)

func TestClampBoundsRatio(t *testing.T) {
	cases := []struct {
		v, factor, want float64
	}{
		{v: 10, factor: 4, want: 4},
		{v: 0.01, factor: 4, want: 0.25},
		{v: 1, factor: 4, want: 1},
	}
	for _, c := range cases {
		if got := clamp(c.v, c.factor); got != c.want {
			t.Errorf("clamp(%v, %v) = %v, want %v", c.v, c.factor, got, c.want)
		}
	}
}

func TestNextDifficultyLevelFasterThanTargetRaisesLevel(t *testing.T) {
	params := testParams()
	params.RetargetInterval = 10
	params.TargetInterval = 10_000_000_000 // 10s
	// Window took half the target time -> blocks came twice as fast ->
	// difficulty should roughly double, clamped at RetargetClamp=4.
	got := nextDifficultyLevel(params, 2, 0, 50)
	if got <= 2 {
		t.Fatalf("expected difficulty level to increase, got %v from base 2", got)
	}
}

func TestNextDifficultyLevelSlowerThanTargetLowersLevel(t *testing.T) {
	params := testParams()
	params.RetargetInterval = 10
	params.TargetInterval = 10_000_000_000
	got := nextDifficultyLevel(params, 4, 0, 400)
	if got >= 4 {
		t.Fatalf("expected difficulty level to decrease, got %v from base 4", got)
	}
	if got < 1 {
		t.Fatalf("difficulty level must never drop below 1, got %v", got)
	}
}

func TestWorkForDifficultyIsPowerOfTwo(t *testing.T) {
	w3 := WorkForDifficulty(3)
	w4 := WorkForDifficulty(4)
	doubled := new(big.Int).Lsh(w3, 1)
	if doubled.Cmp(w4) != 0 {
		t.Fatalf("WorkForDifficulty(4) should be WorkForDifficulty(3) doubled")
	}
}

func TestLevelToDifficultyRoundsToNearestDigit(t *testing.T) {
	cases := []struct {
		level float64
		want  int
	}{
		{level: 0.4, want: 1},
		{level: 1.4, want: 1},
		{level: 1.6, want: 2},
		{level: 5.5, want: 6},
	}
	for _, c := range cases {
		if got := levelToDifficulty(c.level); got != c.want {
			t.Errorf("levelToDifficulty(%v) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestCompactRoundTripsCleanForOrdinaryDifficulties(t *testing.T) {
	for d := 0; d <= 64; d++ {
		if !compactRoundTripsClean(d) {
			t.Fatalf("compactRoundTripsClean(%d) = false, want true for an ordinary difficulty", d)
		}
	}
}

func TestTargetForDifficultyShrinksAsDifficultyGrows(t *testing.T) {
	t0 := targetForDifficulty(0)
	t1 := targetForDifficulty(1)
	if t1.Cmp(t0) >= 0 {
		t.Fatalf("targetForDifficulty(1) should be smaller than targetForDifficulty(0)")
	}
}
