// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "time"

// nowUnix is the chain store's one call to the wall clock, isolated here so
// tests can't accidentally depend on real time creeping into validation
// results (spec.md §4.5's timestamp window is evaluated against whatever
// "now" the caller observed when the candidate block arrived).
func nowUnix() int64 {
	return time.Now().Unix()
}
