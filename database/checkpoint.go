// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const checkpointPrefix = "checkpoint_"

func checkpointPath(dir string, height uint64) string {
	return filepath.Join(dir, "checkpoints", fmt.Sprintf("%s%d.dat", checkpointPrefix, height))
}

// writeCheckpoint persists data as checkpoints/checkpoint_<height>.dat.
// Checkpoints are never auto-pruned (spec.md §4.7), unlike backups.
func writeCheckpoint(dir string, height uint64, data []byte) error {
	return atomicWrite(checkpointPath(dir, height), data)
}

func parseCheckpointHeight(name string) (uint64, bool) {
	if !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, ".dat") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), ".dat")
	h, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return h, true
}

// mostRecentCheckpoint returns the path to the highest-height checkpoint
// file, or "" if none exist.
func mostRecentCheckpoint(dir string) string {
	entries, err := os.ReadDir(filepath.Join(dir, "checkpoints"))
	if err != nil {
		return ""
	}
	var best uint64
	found := false
	for _, e := range entries {
		if h, ok := parseCheckpointHeight(e.Name()); ok && (!found || h > best) {
			best = h
			found = true
		}
	}
	if !found {
		return ""
	}
	return checkpointPath(dir, best)
}

// sortedCheckpointHeights is used by tests and diagnostics to inspect
// what's retained.
func sortedCheckpointHeights(dir string) []uint64 {
	entries, err := os.ReadDir(filepath.Join(dir, "checkpoints"))
	if err != nil {
		return nil
	}
	var heights []uint64
	for _, e := range entries {
		if h, ok := parseCheckpointHeight(e.Name()); ok {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}
