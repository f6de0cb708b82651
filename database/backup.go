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

const backupPrefix = "backup_"

func backupPath(dir string, unixTS int64) string {
	return filepath.Join(dir, "backups", fmt.Sprintf("%s%d.dat", backupPrefix, unixTS))
}

// writeBackup persists data as a new timestamped backup and prunes older
// ones beyond maxBackups, per spec.md §4.7: "kept to the most recent
// MAX_BACKUPS by timestamp; older pruned."
func writeBackup(dir string, unixTS int64, data []byte, maxBackups int) error {
	if err := atomicWrite(backupPath(dir, unixTS), data); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return pruneBackups(dir, maxBackups)
}

func pruneBackups(dir string, maxBackups int) error {
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}

	var timestamps []int64
	for _, e := range entries {
		ts, ok := parseBackupTimestamp(e.Name())
		if ok {
			timestamps = append(timestamps, ts)
		}
	}
	if len(timestamps) <= maxBackups {
		return nil
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] > timestamps[j] })
	for _, ts := range timestamps[maxBackups:] {
		if err := os.Remove(backupPath(dir, ts)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune backup %d: %w", ts, err)
		}
	}
	return nil
}

func parseBackupTimestamp(name string) (int64, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".dat") {
		return 0, false
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".dat")
	ts, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// mostRecentBackup returns the path to the newest backup file, or "" if
// none exist.
func mostRecentBackup(dir string) string {
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		return ""
	}
	var best int64 = -1
	for _, e := range entries {
		if ts, ok := parseBackupTimestamp(e.Name()); ok && ts > best {
			best = ts
		}
	}
	if best < 0 {
		return ""
	}
	return backupPath(dir, best)
}
