// Package logging configures the process-wide zerolog logger: level
// parsing, console-vs-JSON output, and a timestamp on every log line.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how Setup configures the global logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"; defaults to info on parse failure
	Pretty bool   // console-writer output instead of JSON, for interactive CLI use
}

// Setup installs the process-wide zerolog logger and returns it. CLI
// entry points call this once at startup and then log through log.Logger;
// the internal packages do not log, they return errors.
func Setup(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with a "component" field.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
