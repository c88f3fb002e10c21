// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

import (
	"fmt"
	"io"
	"strings"

	"github.com/decred/slog"
)

// Every component constructor accepts a Logger. All logging should take place
// through the provided logger.
type Logger = slog.Logger

// Disabled is a Logger that produces no output. Packages with package-level
// loggers default to Disabled until UseLogger is called.
var Disabled = slog.Disabled

// LoggerMaker allows creation of new log subsystems with predefined levels.
type LoggerMaker struct {
	*slog.Backend
	DefaultLevel slog.Level
	Levels       map[string]slog.Level
}

// NewLoggerMaker creates a new LoggerMaker writing to the provided writer. The
// debugLevel string can be a single level applied to all subsystems, or a
// comma-separated list of subsys=level pairs.
func NewLoggerMaker(writer io.Writer, debugLevel string) (*LoggerMaker, error) {
	lm := &LoggerMaker{
		Backend:      slog.NewBackend(writer),
		DefaultLevel: slog.LevelDebug,
		Levels:       make(map[string]slog.Level),
	}
	if debugLevel == "" {
		return lm, nil
	}
	return lm, lm.SetLevelsFromString(debugLevel)
}

// SetLevelsFromString parses a level specification and applies it. The spec is
// either a single level name, or a comma-separated list of subsystem=level
// pairs.
func (lm *LoggerMaker) SetLevelsFromString(spec string) error {
	pairs, err := parseLevelPairs(spec)
	if err != nil {
		return err
	}
	for subsys, lvl := range pairs {
		if subsys == "" {
			lm.DefaultLevel = lvl
			continue
		}
		lm.Levels[subsys] = lvl
	}
	return nil
}

func parseLevelPairs(spec string) (map[string]slog.Level, error) {
	pairs := make(map[string]slog.Level)
	for _, token := range strings.Split(spec, ",") {
		subsys, lvlStr := "", token
		if idx := strings.Index(token, "="); idx >= 0 {
			subsys, lvlStr = token[:idx], token[idx+1:]
		}
		lvl, ok := slog.LevelFromString(lvlStr)
		if !ok {
			return nil, fmt.Errorf("unknown log level %q", lvlStr)
		}
		pairs[subsys] = lvl
	}
	return pairs, nil
}

// SubLogger creates a Logger with a subsystem name "parent[name]", using any
// known log level for the parent subsystem, defaulting to the DefaultLevel if
// the parent does not have an explicitly set level.
func (lm *LoggerMaker) SubLogger(parent, name string) Logger {
	level, ok := lm.Levels[parent]
	if !ok {
		level = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(fmt.Sprintf("%s[%s]", parent, name))
	logger.SetLevel(level)
	return logger
}

// NewLogger creates a new Logger for the subsystem with the given name. If a
// log level is specified, it is used for the Logger. Otherwise the
// DefaultLevel is used.
func (lm *LoggerMaker) NewLogger(name string, level ...slog.Level) Logger {
	lvl := lm.DefaultLevel
	if len(level) > 0 {
		lvl = level[0]
	}
	logger := lm.Backend.Logger(name)
	logger.SetLevel(lvl)
	return logger
}
