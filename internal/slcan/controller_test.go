package slcan

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mlasek/can-echo-node/internal/can"
	"github.com/mlasek/can-echo-node/internal/filter"
)

// fakePort feeds scripted reads and records writes.
type fakePort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	writes []byte
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.reads) {
		// after delivering all data, block briefly then return EOF repeatedly
		time.Sleep(10 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	n := copy(p, chunk)
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, p...)
	return len(p), nil
}

func (f *fakePort) Close() error { return nil }

func (f *fakePort) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.writes)
}

func newTestController(t *testing.T, reads ...string) (*Controller, *fakePort) {
	t.Helper()
	chunks := make([][]byte, len(reads))
	for i, r := range reads {
		chunks[i] = []byte(r)
	}
	fp := &fakePort{reads: chunks}
	openPort = func(name string, baud int, to time.Duration) (Port, error) { return fp, nil }
	t.Cleanup(func() { openPort = Open })
	c := New(Config{Device: "fake", Baud: 115200, ReadTimeout: 10 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })
	return c, fp
}

func waitAvailable(t *testing.T, c *Controller) can.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.FrameAvailable() {
			fr, err := c.ReceiveFrame()
			if err != nil {
				t.Fatalf("receive after available: %v", err)
			}
			return fr
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timeout waiting for frame")
	return can.Frame{}
}

func TestInitBusProgramsAdapter(t *testing.T) {
	c, fp := newTestController(t)
	if err := c.InitBus(500000); err != nil {
		t.Fatalf("InitBus: %v", err)
	}
	if got := fp.written(); got != "C\rS6\rO\r" {
		t.Fatalf("setup commands: got %q", got)
	}
	if err := c.InitBus(300000); err == nil {
		t.Fatal("expected error for unsupported bitrate")
	}
}

func TestReceiveAppliesSoftwareFilter(t *testing.T) {
	// one accepted frame (0x0FF), one rejected (0x123), split across reads.
	// Filters are installed before InitBus so the pump never sees a nil table.
	c, _ := newTestController(t, "t1232ABCD\rt0FF", "2DEAD\r")
	if err := c.ConfigureFilters(filter.Deployment()); err != nil {
		t.Fatalf("ConfigureFilters: %v", err)
	}
	if err := c.InitBus(500000); err != nil {
		t.Fatalf("InitBus: %v", err)
	}
	fr := waitAvailable(t, c)
	if fr.ID != 0x0FF || fr.Len != 2 || fr.Data[0] != 0xDE || fr.Data[1] != 0xAD {
		t.Fatalf("unexpected frame: %+v", fr)
	}
	// the rejected frame must not surface
	if c.FrameAvailable() {
		t.Fatalf("rejected frame surfaced: %+v", mustRecv(t, c))
	}
}

func TestFramesDroppedBeforeFilterConfig(t *testing.T) {
	c, _ := newTestController(t, "t0FF0\r")
	if err := c.InitBus(500000); err != nil {
		t.Fatalf("InitBus: %v", err)
	}
	// no ConfigureFilters call: nothing may surface
	time.Sleep(50 * time.Millisecond)
	if c.FrameAvailable() {
		t.Fatal("frame surfaced before filters were configured")
	}
}

func TestCommandAcksIgnored(t *testing.T) {
	c, _ := newTestController(t, "\r\x07\rz\rt0040\r")
	if err := c.ConfigureFilters(filter.Deployment()); err != nil {
		t.Fatalf("ConfigureFilters: %v", err)
	}
	if err := c.InitBus(500000); err != nil {
		t.Fatalf("InitBus: %v", err)
	}
	fr := waitAvailable(t, c)
	if fr.ID != 0x004 || fr.Len != 0 {
		t.Fatalf("unexpected frame: %+v", fr)
	}
}

func TestTransmitFrameWritesLine(t *testing.T) {
	c, fp := newTestController(t)
	if err := c.InitBus(500000); err != nil {
		t.Fatalf("InitBus: %v", err)
	}
	fr := can.Frame{ID: 0x123456, Extended: true, Len: 4, Data: [8]byte{0xDE, 0xAD, 0xBE, 0xEF}}
	if err := c.TransmitFrame(fr); err != nil {
		t.Fatalf("TransmitFrame: %v", err)
	}
	if !strings.HasSuffix(fp.written(), "T001234564DEADBEEF\r") {
		t.Fatalf("unexpected writes: %q", fp.written())
	}
}

func TestTransmitBeforeInitFails(t *testing.T) {
	c := New(Config{Device: "fake"})
	if err := c.TransmitFrame(can.Frame{ID: 1}); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func mustRecv(t *testing.T, c *Controller) can.Frame {
	t.Helper()
	fr, err := c.ReceiveFrame()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return fr
}
