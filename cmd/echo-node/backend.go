package main

import (
	"fmt"
	"log/slog"

	"github.com/mlasek/can-echo-node/internal/relay"
)

// initBackend selects the CAN controller backend and returns it with a
// cleanup function. It returns an error instead of exiting the process
// to allow graceful handling by the caller.
func initBackend(cfg *appConfig, l *slog.Logger) (relay.Controller, func(), error) {
	switch cfg.backend {
	case "socketcan":
		return initSocketCANBackend(cfg, l)
	case "slcan":
		return initSlcanBackend(cfg, l)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend)
	}
}
