package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mlasek/can-echo-node/internal/indicator"
	"github.com/mlasek/can-echo-node/internal/metrics"
	"github.com/mlasek/can-echo-node/internal/relay"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("echo-node %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctrl, cleanup, err := initBackend(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	defer cleanup()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	r := relay.New(ctrl,
		relay.WithIndicator(initIndicator(cfg, l)),
		relay.WithLogger(l),
		relay.WithBitrate(uint32(cfg.bitrate)),
		relay.WithIDOffset(uint32(cfg.idOffset)),
	)

	// Ready once the boot sequence completed and we are relaying.
	metrics.SetReadinessFunc(func() bool {
		return r.State() == relay.StateRelaying && ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		cleanupMDNS, merr := startMDNS(ctx, cfg)
		if merr != nil {
			l.Warn("mdns_start_failed", "error", merr)
		} else {
			defer cleanupMDNS()
		}
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("relay_error", "error", err, "state", r.State().String())
	} else {
		l.Info("shutdown", "state", r.State().String())
	}
	cancel()
	wg.Wait()
}

// initIndicator wires the diagnostic output: a sysfs LED when
// configured, otherwise logged transitions.
func initIndicator(cfg *appConfig, l *slog.Logger) indicator.Indicator {
	if cfg.ledPath == "" {
		return &indicator.Log{}
	}
	led, err := indicator.OpenLED(cfg.ledPath)
	if err != nil {
		l.Warn("led_open_failed", "path", cfg.ledPath, "error", err)
		return &indicator.Log{}
	}
	l.Info("led_open", "path", cfg.ledPath)
	return led
}
