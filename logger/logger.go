// Package logger builds the zerolog root logger for the magpie binaries.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// InitWithOptions builds the root logger. With a logFile it appends JSON
// lines there; otherwise it writes to stdout, through zerolog's
// ConsoleWriter when pretty is set. The level comes from the LOG_LEVEL
// environment variable and defaults to info.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	var (
		output io.Writer = os.Stdout
		target           = "stdout"
	)
	switch {
	case logFile != "":
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
		target = logFile
	case pretty:
		output = zerolog.ConsoleWriter{Out: os.Stdout}
		target = "stdout (pretty)"
	}

	level := levelFromEnv()
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	logger.Info().Str("output", target).Str("level", level.String()).Msg("Logger initialized")
	return logger, nil
}

// levelFromEnv reads LOG_LEVEL. Unset or unparseable values mean info.
func levelFromEnv() zerolog.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if raw == "" {
		return zerolog.InfoLevel
	}
	if raw == "warning" {
		raw = "warn"
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
