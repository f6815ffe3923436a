// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"decred.org/mmswap/dex"
	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem logger names.
const (
	MeshLoggerName   = "MESH"
	EngineLoggerName = "ORDM"
	DBLoggerName     = "DB"
	RPCLoggerName    = "RPC"
)

const (
	maxLogRolls = 16
	// Roll threshold in KiB.
	logRollSize = 32 * 1024
)

// The mesh relays every gossip message, so it is quieter by default. Levels
// set with --log take precedence.
var defaultLogLevelMap = map[string]slog.Level{MeshLoggerName: slog.LevelInfo}

// InitLogging creates a LoggerMaker writing to a rotating log file at
// cfg.LogPath, mirrored to stdout unless cfg.NoStdout. Roll files are created
// in the same directory. The returned function closes the log file.
func InitLogging(cfg *LogConfig) (*dex.LoggerMaker, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(cfg.LogPath, logRollSize, false, maxLogRolls)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	var w io.Writer = r
	if cfg.NoStdout {
		fmt.Println("Logging to", cfg.LogPath)
	} else {
		w = io.MultiWriter(os.Stdout, r)
	}
	lm, err := dex.NewLoggerMaker(w, cfg.DebugLevel, !cfg.LocalLogs)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("failed to create custom logger: %w", err)
	}
	lm.SetLevelsFromMap(defaultLogLevelMap)
	return lm, func() { r.Close() }, nil
}
