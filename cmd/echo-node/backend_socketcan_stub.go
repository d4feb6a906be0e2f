//go:build !linux

package main

import (
	"errors"
	"log/slog"

	"github.com/mlasek/can-echo-node/internal/relay"
)

func initSocketCANBackend(cfg *appConfig, l *slog.Logger) (relay.Controller, func(), error) {
	return nil, func() {}, errors.New("socketcan backend requires linux (use --backend=slcan)")
}
