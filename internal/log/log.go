// Package log bootstraps the coordinator's zerolog logger, ported from the
// teacher's internal/util.InitLogger/UpdateLogLevel (the TOML config layer
// they read level from is dropped -- level here comes from pkg/config's
// env-sourced value, per SPEC_FULL.md's ambient-stack note).
package log

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a logger: pretty console output when stdout is a terminal,
// JSON otherwise, a "service" field stamped on every line in JSON mode.
func New() zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if isTerminal() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "uptime-coordinator").
		Logger()
}

// SetLevel parses levelStr ("debug", "info", "warn", "error") and sets the
// global zerolog level, defaulting to info on an empty or unknown value.
func SetLevel(logger zerolog.Logger, levelStr string) {
	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info", "":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().Str("configured_level", levelStr).Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
}

func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
