package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// debugAdapter exposes a slog.Logger as the Printf logger of the transports.
type debugAdapter struct {
	*slog.Logger
}

func (log *debugAdapter) Printf(msg string, args ...any) {
	log.Logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, args...)))
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
