// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/decred/slog"
)

// Logger is the logging interface used throughout mmswap. Every constructor
// accepts a Logger, and all logging should take place through it.
type Logger interface {
	slog.Logger
	// SubLogger creates a child Logger named "parent[name]" that shares the
	// parent's backend and level.
	SubLogger(name string) Logger
}

type logger struct {
	slog.Logger
	name    string
	backend *slog.Backend
}

// SubLogger creates a new Logger for a subsystem of this logger.
func (lggr *logger) SubLogger(name string) Logger {
	sub := lggr.backend.Logger(fmt.Sprintf("%s[%s]", lggr.name, name))
	sub.SetLevel(lggr.Level())
	return &logger{
		Logger:  sub,
		name:    fmt.Sprintf("%s[%s]", lggr.name, name),
		backend: lggr.backend,
	}
}

// Disabled is a Logger that will never output anything.
var Disabled Logger = &logger{
	Logger:  slog.Disabled,
	backend: slog.NewBackend(io.Discard),
}

// NewLogger creates a Logger with the specified name and level that writes to
// the provided io.Writer.
func NewLogger(name string, lvl slog.Level, w io.Writer, utc ...bool) Logger {
	var opts []slog.BackendOption
	if len(utc) > 0 && utc[0] {
		opts = append(opts, slog.WithFlags(slog.LUTC))
	}
	backend := slog.NewBackend(w, opts...)
	lggr := backend.Logger(name)
	lggr.SetLevel(lvl)
	return &logger{
		Logger:  lggr,
		name:    name,
		backend: backend,
	}
}

// StdOutLogger creates a Logger with the specified name and level that writes
// to stdout.
func StdOutLogger(name string, lvl slog.Level, utc ...bool) Logger {
	return NewLogger(name, lvl, os.Stdout, utc...)
}

// LoggerMaker allows creation of new log subsystems with predefined levels.
type LoggerMaker struct {
	*slog.Backend
	DefaultLevel slog.Level
	Levels       map[string]slog.Level
}

// NewLoggerMaker parses the debug level string into a new *LoggerMaker. The
// debugLevel string can specify a single verbosity for all subsystems, or a
// comma-separated list of SUBSYS=LEVEL pairs, optionally preceded by a lone
// default level, e.g. "info,ORDM=trace,XTZ=debug".
func NewLoggerMaker(writer io.Writer, debugLevel string, utc bool) (*LoggerMaker, error) {
	var opts []slog.BackendOption
	if utc {
		opts = append(opts, slog.WithFlags(slog.LUTC))
	}
	lm := &LoggerMaker{
		Backend:      slog.NewBackend(writer, opts...),
		Levels:       make(map[string]slog.Level),
		DefaultLevel: slog.LevelInfo,
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			lvl, ok := slog.LevelFromString(pair)
			if !ok {
				return nil, fmt.Errorf("unknown log level %q", pair)
			}
			lm.DefaultLevel = lvl
			continue
		}
		fields := strings.Split(pair, "=")
		if len(fields) != 2 || fields[0] == "" {
			return nil, fmt.Errorf("invalid subsystem log level %q", pair)
		}
		lvl, ok := slog.LevelFromString(fields[1])
		if !ok {
			return nil, fmt.Errorf("unknown log level %q for subsystem %s", fields[1], fields[0])
		}
		lm.Levels[fields[0]] = lvl
	}
	return lm, nil
}

// SetLevelsFromMap sets levels for subsystems that don't already have an
// explicit level.
func (lm *LoggerMaker) SetLevelsFromMap(lvls map[string]slog.Level) {
	for name, lvl := range lvls {
		if _, found := lm.Levels[name]; !found {
			lm.Levels[name] = lvl
		}
	}
}

// Logger creates a new Logger for the subsystem with the given name. If a log
// level is configured for the subsystem, it is used. Otherwise the
// DefaultLevel is used.
func (lm *LoggerMaker) Logger(name string) Logger {
	lvl, ok := lm.Levels[name]
	if !ok {
		lvl = lm.DefaultLevel
	}
	lggr := lm.Backend.Logger(name)
	lggr.SetLevel(lvl)
	return &logger{
		Logger:  lggr,
		name:    name,
		backend: lm.Backend,
	}
}
