package main

import (
	"log/slog"
	"os"

	"github.com/mlasek/can-echo-node/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "echo-node")
	logging.Set(l)
	return l
}
