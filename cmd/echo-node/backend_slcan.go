package main

import (
	"log/slog"

	"github.com/mlasek/can-echo-node/internal/relay"
	"github.com/mlasek/can-echo-node/internal/slcan"
)

// newSlcanController is a hook for tests (overridden in unit tests).
var newSlcanController = func(cfg *appConfig) relay.Controller {
	return slcan.New(slcan.Config{Device: cfg.serialDev, Baud: cfg.baud, ReadTimeout: cfg.serialReadTO})
}

func initSlcanBackend(cfg *appConfig, l *slog.Logger) (relay.Controller, func(), error) {
	ctrl := newSlcanController(cfg)
	l.Info("backend_selected", "backend", "slcan", "device", cfg.serialDev, "baud", cfg.baud)
	cleanup := func() {
		if c, ok := ctrl.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return ctrl, cleanup, nil
}
