package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/mlasek/can-echo-node/internal/can"
	"github.com/mlasek/can-echo-node/internal/filter"
	"github.com/mlasek/can-echo-node/internal/relay"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// nopController satisfies relay.Controller for backend wiring tests.
type nopController struct{ closed bool }

func (n *nopController) InitBus(uint32) error                { return nil }
func (n *nopController) ConfigureFilters(filter.Table) error { return nil }
func (n *nopController) FrameAvailable() bool                { return false }
func (n *nopController) ReceiveFrame() (can.Frame, error)    { return can.Frame{}, nil }
func (n *nopController) TransmitFrame(can.Frame) error       { return nil }
func (n *nopController) Close() error                        { n.closed = true; return nil }

func TestInitBackendUnknown(t *testing.T) {
	cfg := baseConfig()
	cfg.backend = "spi"
	if _, _, err := initBackend(cfg, testLogger()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestInitBackendSlcanCleanupCloses(t *testing.T) {
	nc := &nopController{}
	prev := newSlcanController
	newSlcanController = func(cfg *appConfig) relay.Controller { return nc }
	t.Cleanup(func() { newSlcanController = prev })

	cfg := baseConfig()
	cfg.backend = "slcan"
	ctrl, cleanup, err := initBackend(cfg, testLogger())
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	if ctrl != relay.Controller(nc) {
		t.Fatalf("unexpected controller")
	}
	cleanup()
	if !nc.closed {
		t.Fatalf("cleanup did not close the controller")
	}
}
