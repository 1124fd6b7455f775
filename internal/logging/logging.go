package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger. Production runs emit JSON; dev runs can
// switch to the text handler with CHECKOUT_LOG_JSON=false.
func New(env string, jsonOut bool) *slog.Logger {
	return newWithWriter(os.Stdout, env, jsonOut)
}

func newWithWriter(w io.Writer, env string, jsonOut bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if strings.EqualFold(env, "dev") {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if jsonOut {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "checkout-backend", "env", env)
}

// Discard is used by tests and by components constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
