// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"io"
	"math"
)

func readFull(r io.Reader, b []byte) (int, error) {
	return io.ReadFull(r, b)
}

func float64bits(f float64) uint64 {
	return math.Float64bits(f)
}

func float64frombits(b uint64) float64 {
	return math.Float64frombits(b)
}
