// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validation

import (
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/errs"
)

// Header checks the header-only subset of Block's rules: proof-of-work,
// parent linkage, and the expected difficulty, per spec.md §4.12's
// header-sync phase ("validate each header chain (PoW + link + difficulty
// rule)"). It deliberately omits every body check (Block performs those
// once the full block lands), so netsync can build confidence in a
// candidate header chain before paying the bandwidth cost of downloading
// bodies.
func Header(header *chainutil.Block, parent *ParentInfo, expectedDifficulty int) error {
	if header.Index != parent.Index+1 {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "header index %d is not parent index %d + 1",
			header.Index, parent.Index)
	}
	if header.PreviousHash != parent.Hash {
		return errs.Consensusf(errs.ReasonInvalidPrevHash, "header previous hash %s does not match parent %s",
			header.PreviousHash, parent.Hash)
	}
	if header.Difficulty != expectedDifficulty {
		return errs.Consensusf(errs.ReasonInvalidDifficulty, "header difficulty %d does not match expected %d",
			header.Difficulty, expectedDifficulty)
	}
	if header.Hash().LeadingHexZeros() < header.Difficulty {
		return errs.Consensusf(errs.ReasonInvalidDifficulty, "header hash %s does not satisfy difficulty %d",
			header.Hash(), header.Difficulty)
	}
	return nil
}
