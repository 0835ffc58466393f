// Package debug configures process-wide logging. The LSP transport owns
// stdout, so all logging goes to stderr or a file.
package debug

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// NewLogger builds the root logger. Pretty output is for humans on a
// terminal; otherwise lines are JSON.
func NewLogger(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), errors.Errorf("invalid log level %q: %w", level, err)
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(w).Level(lvl).With().
		Timestamp().
		Caller().
		Logger()
	return logger, nil
}

// NewContext attaches the logger so zerolog.Ctx recovers it downstream.
func NewContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}
