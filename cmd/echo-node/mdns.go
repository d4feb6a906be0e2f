package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

// startMDNS advertises the diagnostics (metrics) endpoint via mDNS and
// returns a cleanup function. It is safe to call even if disabled (no-op).
const mdnsServiceType = "_can-echo._tcp"

func startMDNS(ctx context.Context, cfg *appConfig) (func(), error) {
	if !cfg.mdnsEnable || cfg.metricsAddr == "" {
		return func() {}, nil
	}
	port := 0
	if _, p, err := net.SplitHostPort(cfg.metricsAddr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			port = pn
		}
	}
	if port == 0 {
		return nil, fmt.Errorf("mdns: cannot determine port from metrics addr %q", cfg.metricsAddr)
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("echo-node-%s", host)
	}
	meta := []string{
		"backend=" + cfg.backend,
		"version=" + version,
		"commit=" + commit,
	}
	// Hardcoded service type; domain local.
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
