// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/aix-network/aixd/errs"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// multiWriter fans every log line out to both stdout and the rotator, the
// same "print and persist" shape the teacher's own logger.go uses.
type multiWriter struct {
	rotator *rotator.Rotator
}

func (w multiWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return w.rotator.Write(p)
}

var _ io.Writer = multiWriter{}

// SubsystemLoggers names every per-component logger cmd/aixd hands down to
// its collaborators (blockchain, mempool, netsync, peer, discovery),
// mirroring the teacher's "one tagged logger per package" convention
// rather than a single undifferentiated stream.
type SubsystemLoggers struct {
	Node      slog.Logger
	Chain     slog.Logger
	Mempool   slog.Logger
	Netsync   slog.Logger
	Peer      slog.Logger
	Discovery slog.Logger
}

// NewSubsystemLoggers derives one tagged logger per subsystem from the
// same backend as the top-level node logger, all sharing its level and
// output.
func NewSubsystemLoggers(logDir, level string) (*SubsystemLoggers, *rotator.Rotator, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "create log dir %s: %v", logDir, err)
	}
	rot, err := rotator.New(filepath.Join(logDir, defaultLogFilename), defaultLogFileBytes, false, defaultMaxLogRolls)
	if err != nil {
		return nil, nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "create log rotator: %v", err)
	}

	backend := slog.NewBackend(multiWriter{rotator: rot})
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}

	loggers := &SubsystemLoggers{
		Node:      backend.Logger("NODE"),
		Chain:     backend.Logger("CHAN"),
		Mempool:   backend.Logger("MPOL"),
		Netsync:   backend.Logger("NSYN"),
		Peer:      backend.Logger("PEER"),
		Discovery: backend.Logger("DISC"),
	}
	for _, l := range []slog.Logger{loggers.Node, loggers.Chain, loggers.Mempool, loggers.Netsync, loggers.Peer, loggers.Discovery} {
		l.SetLevel(lvl)
	}
	return loggers, rot, nil
}
