package main

import (
	"log/slog"
	"os"

	"github.com/pilightgo/pilightd/internal/logging"
)

func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	l := logging.New("text", level, os.Stderr).With("app", "pilightd")
	logging.Set(l)
	return l
}
