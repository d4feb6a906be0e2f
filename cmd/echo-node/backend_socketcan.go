//go:build linux

package main

import (
	"log/slog"

	"github.com/mlasek/can-echo-node/internal/relay"
	"github.com/mlasek/can-echo-node/internal/socketcan"
)

// newSocketCANController is a hook for tests (overridden in unit tests).
var newSocketCANController = func(iface string) relay.Controller { return socketcan.New(iface) }

func initSocketCANBackend(cfg *appConfig, l *slog.Logger) (relay.Controller, func(), error) {
	ctrl := newSocketCANController(cfg.canIf)
	l.Info("backend_selected", "backend", "socketcan", "if", cfg.canIf)
	cleanup := func() {
		if c, ok := ctrl.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return ctrl, cleanup, nil
}
