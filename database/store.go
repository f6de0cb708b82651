// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/errs"
	"github.com/decred/slog"
)

// chainDatName and chainMetaName are the two top-level files spec.md §4.7
// names directly; backups/ and checkpoints/ are subdirectories of dir.
const (
	chainDatName  = "chain.dat"
	chainMetaName = "chain.meta"
)

// Store is the node's single persistence writer (spec.md §5: "the disk is
// accessed only through the persistence writer for mutations"). All
// mutating calls take Store.mu, so callers don't need their own external
// serialization; Load is safe to call before any Save.
type Store struct {
	dir    string
	params *chaincfg.Params
	log    slog.Logger

	mu sync.Mutex
}

// Open prepares a Store rooted at dir, creating it and its backups/ and
// checkpoints/ subdirectories if they don't already exist. It performs no
// I/O against chain.dat itself; call Load to read existing state.
func Open(dir string, params *chaincfg.Params, log slog.Logger) (*Store, error) {
	for _, sub := range []string{"", "backups", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errs.New(errs.Storage, errs.ReasonUnrecoverable, "create %s: %v", filepath.Join(dir, sub), err)
		}
	}
	return &Store{dir: dir, params: params, log: log}, nil
}

// Save atomically persists rec as chain.dat and its chain.meta probe copy,
// then conditionally writes a backup (if BackupOnSave) and a checkpoint
// (every CheckpointInterval blocks), per spec.md §4.7.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := EncodeRecord(rec)
	if err != nil {
		return errs.New(errs.Storage, errs.ReasonUnrecoverable, "encode record: %v", err)
	}

	// Re-derive Meta.Checksum/Version from the just-encoded payload so
	// chain.meta always matches chain.dat's header exactly.
	reloaded, err := DecodeRecord(data)
	if err != nil {
		return errs.New(errs.Storage, errs.ReasonUnrecoverable, "verify freshly encoded record: %v", err)
	}

	if err := atomicWrite(filepath.Join(s.dir, chainDatName), data); err != nil {
		return errs.New(errs.Storage, errs.ReasonUnrecoverable, "write chain.dat: %v", err)
	}
	if err := atomicWrite(filepath.Join(s.dir, chainMetaName), encodeMeta(reloaded.Meta)); err != nil {
		return errs.New(errs.Storage, errs.ReasonUnrecoverable, "write chain.meta: %v", err)
	}

	if s.params.BackupOnSave {
		if err := writeBackup(s.dir, rec.Meta.Timestamp, data, s.params.MaxBackups); err != nil {
			return errs.New(errs.Storage, errs.ReasonUnrecoverable, "write backup: %v", err)
		}
	}

	if s.params.CheckpointInterval > 0 && rec.Meta.Height%s.params.CheckpointInterval == 0 {
		if err := writeCheckpoint(s.dir, rec.Meta.Height, data); err != nil {
			return errs.New(errs.Storage, errs.ReasonUnrecoverable, "write checkpoint: %v", err)
		}
	}

	return nil
}

// Load implements spec.md §4.7's ordered recovery: (1) chain.dat with a
// verified checksum, (2) on failure the most recent backup, (3) on failure
// the most recent checkpoint, (4) on failure, unrecoverable. recoveredFrom
// names which source actually supplied the returned Record ("chain.dat",
// "backup", "checkpoint") for the caller to log.
func (s *Store) Load() (rec *Record, recoveredFrom string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, readErr := os.ReadFile(filepath.Join(s.dir, chainDatName)); readErr == nil {
		if rec, decErr := DecodeRecord(data); decErr == nil {
			return rec, "chain.dat", nil
		} else if s.log != nil {
			s.log.Warnf("chain.dat failed checksum verification: %v", decErr)
		}
	} else if !os.IsNotExist(readErr) {
		return nil, "", errs.New(errs.Storage, errs.ReasonUnrecoverable, "read chain.dat: %v", readErr)
	}

	if path := mostRecentBackup(s.dir); path != "" {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if rec, decErr := DecodeRecord(data); decErr == nil {
				if s.log != nil {
					s.log.Infof("recovered from backup %s", path)
				}
				return rec, "backup", nil
			} else if s.log != nil {
				s.log.Warnf("backup %s failed checksum verification: %v", path, decErr)
			}
		}
	}

	if path := mostRecentCheckpoint(s.dir); path != "" {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if rec, decErr := DecodeRecord(data); decErr == nil {
				if s.log != nil {
					s.log.Infof("recovered from checkpoint %s", path)
				}
				return rec, "checkpoint", nil
			} else if s.log != nil {
				s.log.Warnf("checkpoint %s failed checksum verification: %v", path, decErr)
			}
		}
	}

	return nil, "", errs.New(errs.State, errs.ReasonUnrecoverable,
		"chain.dat, most recent backup, and most recent checkpoint all failed or are absent")
}

// Exists reports whether chain.dat is present, used at startup to
// distinguish "first run, build genesis" from "existing state, must load
// successfully or refuse to start mining" (spec.md §4.7).
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, chainDatName))
	return err == nil
}
