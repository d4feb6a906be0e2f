package slcan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mlasek/can-echo-node/internal/can"
	"github.com/mlasek/can-echo-node/internal/filter"
	"github.com/mlasek/can-echo-node/internal/logging"
	"github.com/mlasek/can-echo-node/internal/metrics"
)

const (
	readBufSize  = 4096
	rxQueueSize  = 64 // decoded-frame buffer; overflow drops the newest frame
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
)

// Test hooks.
var (
	openPort = Open
	sleepFn  = time.Sleep
)

var (
	ErrNoFrame = errors.New("slcan: no frame queued")
	ErrNotOpen = errors.New("slcan: bus not initialized")
)

// Config selects the serial device carrying the SLCAN adapter.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Controller drives an SLCAN adapter as the relay's CAN controller.
// SLCAN adapters have no hardware acceptance filtering, so the
// configured table is applied in software on the receive path; the
// acceptance semantics are identical, only the layer differs.
type Controller struct {
	cfg Config

	mu    sync.Mutex // guards port writes and the table
	port  Port
	table *filter.Table

	rx   chan can.Frame
	done chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		rx:   make(chan can.Frame, rxQueueSize),
		done: make(chan struct{}),
	}
}

// InitBus opens the serial port, programs the bit rate and opens the
// adapter's CAN channel, then starts the receive pump.
func (c *Controller) InitBus(bitrate uint32) error {
	code, err := BitrateCode(bitrate)
	if err != nil {
		return err
	}
	p, err := openPort(c.cfg.Device, c.cfg.Baud, c.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open slcan port: %w", err)
	}
	// Close any stale channel first; adapters ignore C when closed.
	if _, err := p.Write([]byte("C\r")); err != nil {
		_ = p.Close()
		return fmt.Errorf("slcan close channel: %w", err)
	}
	if _, err := p.Write([]byte{'S', code, '\r'}); err != nil {
		_ = p.Close()
		return fmt.Errorf("slcan set bitrate: %w", err)
	}
	if _, err := p.Write([]byte("O\r")); err != nil {
		_ = p.Close()
		return fmt.Errorf("slcan open channel: %w", err)
	}
	c.mu.Lock()
	c.port = p
	c.mu.Unlock()
	logging.L().Info("slcan_open", "device", c.cfg.Device, "baud", c.cfg.Baud, "bitrate", bitrate)
	c.wg.Add(1)
	go c.rxLoop(p)
	return nil
}

// ConfigureFilters stores the acceptance table for the receive path.
func (c *Controller) ConfigureFilters(tbl filter.Table) error {
	c.mu.Lock()
	c.table = &tbl
	c.mu.Unlock()
	return nil
}

// rxLoop pumps adapter lines into decoded, filtered frames.
func (c *Controller) rxLoop(p Port) {
	defer c.wg.Done()
	defer logging.L().Info("slcan_rx_end")
	buf := make([]byte, readBufSize)
	acc := bytes.NewBuffer(nil)
	backoff := rxBackoffMin
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, err := p.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			c.drainLines(acc)
			backoff = rxBackoffMin
		}
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				return // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout / transient EOF
			}
			metrics.IncError(metrics.ErrSlcanRead)
			logging.L().Warn("slcan_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

// drainLines consumes every complete CR-terminated line in acc.
func (c *Controller) drainLines(acc *bytes.Buffer) {
	for {
		line, err := acc.ReadBytes('\r')
		if err != nil {
			// partial line: put it back and wait for more bytes
			acc.Write(line)
			return
		}
		line = line[:len(line)-1]
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case 't', 'T', 'r', 'R':
		default:
			continue // command ack or status line, not a frame
		}
		fr, err := Unmarshal(line)
		if err != nil {
			metrics.IncError(metrics.ErrSlcanRead)
			logging.L().Warn("slcan_decode_error", "error", err)
			continue
		}
		c.mu.Lock()
		tbl := c.table
		c.mu.Unlock()
		if tbl == nil || !tbl.Accepts(fr) {
			metrics.IncRejected()
			continue
		}
		select {
		case c.rx <- fr:
		default:
			logging.L().Debug("slcan_rx_overflow", "id", fr.ID)
		}
	}
}

// FrameAvailable reports whether a decoded frame is queued.
func (c *Controller) FrameAvailable() bool { return len(c.rx) > 0 }

// ReceiveFrame pops the next queued frame without blocking.
func (c *Controller) ReceiveFrame() (can.Frame, error) {
	select {
	case fr := <-c.rx:
		return fr, nil
	default:
		return can.Frame{}, ErrNoFrame
	}
}

// TransmitFrame writes one frame to the adapter. Fire-and-forget: the
// adapter's ack is consumed (and ignored) by the receive pump.
func (c *Controller) TransmitFrame(fr can.Frame) error {
	line, err := Marshal(fr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	p := c.port
	c.mu.Unlock()
	if p == nil {
		return ErrNotOpen
	}
	if _, err := p.Write(line); err != nil {
		metrics.IncError(metrics.ErrSlcanWrite)
		return fmt.Errorf("slcan write: %w", err)
	}
	return nil
}

// Close shuts the adapter channel and stops the receive pump.
func (c *Controller) Close() error {
	c.mu.Lock()
	p := c.port
	c.port = nil
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	close(c.done)
	_, _ = p.Write([]byte("C\r"))
	err := p.Close()
	c.wg.Wait()
	return err
}
