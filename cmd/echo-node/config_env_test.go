package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("CAN_ECHO_BACKEND", "slcan")
	os.Setenv("CAN_ECHO_BAUD", "230400")
	os.Setenv("CAN_ECHO_BITRATE", "250000")
	os.Setenv("CAN_ECHO_ID_OFFSET", "42")
	os.Setenv("CAN_ECHO_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("CAN_ECHO_MDNS_ENABLE", "true")
	t.Cleanup(func() {
		os.Unsetenv("CAN_ECHO_BACKEND")
		os.Unsetenv("CAN_ECHO_BAUD")
		os.Unsetenv("CAN_ECHO_BITRATE")
		os.Unsetenv("CAN_ECHO_ID_OFFSET")
		os.Unsetenv("CAN_ECHO_SERIAL_READ_TIMEOUT")
		os.Unsetenv("CAN_ECHO_MDNS_ENABLE")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.backend != "slcan" {
		t.Fatalf("expected backend override, got %s", base.backend)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if base.bitrate != 250000 {
		t.Fatalf("expected bitrate override, got %d", base.bitrate)
	}
	if base.idOffset != 42 {
		t.Fatalf("expected id offset override, got %d", base.idOffset)
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("CAN_ECHO_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("CAN_ECHO_BAUD") })
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{bitrate: 500000}
	os.Setenv("CAN_ECHO_BITRATE", "notint")
	t.Cleanup(func() { os.Unsetenv("CAN_ECHO_BITRATE") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
