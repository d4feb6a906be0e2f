// Package relay implements the node's control flow: one-shot boot
// (bus init, acceptance filter installation, startup diagnostic
// frame) followed by the steady-state loop that retransmits every
// accepted frame with a shifted identifier.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mlasek/can-echo-node/internal/can"
	"github.com/mlasek/can-echo-node/internal/filter"
	"github.com/mlasek/can-echo-node/internal/indicator"
	"github.com/mlasek/can-echo-node/internal/logging"
	"github.com/mlasek/can-echo-node/internal/metrics"
)

// Controller is the CAN controller collaborator. FrameAvailable is a
// non-blocking query; ReceiveFrame and TransmitFrame are bounded
// synchronous calls and may block briefly for bus access.
type Controller interface {
	InitBus(bitrate uint32) error
	ConfigureFilters(tbl filter.Table) error
	FrameAvailable() bool
	ReceiveFrame() (can.Frame, error)
	TransmitFrame(can.Frame) error
}

// State is the relay life-cycle position. Transitions only move
// forward; Faulted halts forward progress.
type State int32

const (
	StateBooting State = iota
	StateFilterConfig
	StateStartupTx
	StateRelaying
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateFilterConfig:
		return "filter_config"
	case StateStartupTx:
		return "startup_tx"
	case StateRelaying:
		return "relaying"
	case StateFaulted:
		return "faulted"
	}
	return "unknown"
}

// Startup diagnostic frame, sent exactly once after filter
// configuration succeeds.
const StartupID = 0x123456

var startupPayload = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// StartupFrame returns the boot-time diagnostic frame.
func StartupFrame() can.Frame {
	f, _ := can.New(StartupID, true, startupPayload)
	return f
}

const (
	DefaultBitrate      = 500000
	DefaultIDOffset     = 10
	defaultBootDelay    = 500 * time.Millisecond
	defaultPollInterval = time.Millisecond
)

// sleepFn allows tests to intercept boot delays and poll idling.
var sleepFn = time.Sleep

// newBootBackoff builds the retry policy for configuration steps
// (overridden in unit tests to shrink intervals).
var newBootBackoff = func() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // configuration faults block until resolved
	return bo
}

var ErrBootAborted = errors.New("relay: boot aborted")

// Relay owns the boot sequence and the steady-state loop. It runs on
// a single goroutine; at most one received frame is in flight between
// fetch and retransmit.
type Relay struct {
	ctrl         Controller
	ind          indicator.Indicator
	log          *slog.Logger
	table        filter.Table
	bitrate      uint32
	offset       uint32
	bootDelay    time.Duration
	pollInterval time.Duration
	state        atomic.Int32
}

type Option func(*Relay)

func WithIndicator(ind indicator.Indicator) Option { return func(r *Relay) { r.ind = ind } }
func WithLogger(l *slog.Logger) Option             { return func(r *Relay) { r.log = l } }
func WithFilterTable(t filter.Table) Option        { return func(r *Relay) { r.table = t } }
func WithBitrate(b uint32) Option                  { return func(r *Relay) { r.bitrate = b } }
func WithIDOffset(o uint32) Option                 { return func(r *Relay) { r.offset = o } }
func WithBootDelay(d time.Duration) Option         { return func(r *Relay) { r.bootDelay = d } }
func WithPollInterval(d time.Duration) Option      { return func(r *Relay) { r.pollInterval = d } }

// New builds a Relay around the given controller. Defaults: 500 kb/s,
// identifier offset 10, the deployment filter table, logging
// indicator.
func New(ctrl Controller, opts ...Option) *Relay {
	r := &Relay{
		ctrl:         ctrl,
		ind:          &indicator.Log{},
		log:          logging.L(),
		table:        filter.Deployment(),
		bitrate:      DefaultBitrate,
		offset:       DefaultIDOffset,
		bootDelay:    defaultBootDelay,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current life-cycle position.
func (r *Relay) State() State { return State(r.state.Load()) }

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
	metrics.SetBootState(int(s))
	r.log.Info("relay_state", "state", s.String())
}

// blink drives one step of the boot indicator signature.
func (r *Relay) blink(on bool) {
	r.ind.Set(on)
	sleepFn(r.bootDelay)
}

// retryConfig runs op until it succeeds, retrying with exponential
// backoff for as long as the context lives. Configuration faults are
// fatal to forward progress, so there is no retry cap: an operator
// observes the stall through the indicator never reaching its ready
// pattern and the boot state gauge.
func (r *Relay) retryConfig(ctx context.Context, what, label string, op func() error) error {
	bo := newBootBackoff()
	notify := func(err error, next time.Duration) {
		metrics.IncError(label)
		r.log.Warn(what+"_retry", "error", err, "next", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		r.setState(StateFaulted)
		return fmt.Errorf("%w: %s: %w", ErrBootAborted, what, err)
	}
	return nil
}

// Run executes the boot sequence once and then relays frames until
// the context is cancelled, returning the context error. A boot that
// cannot complete returns ErrBootAborted.
func (r *Relay) Run(ctx context.Context) error {
	r.setState(StateBooting)
	// Pre-init indicator signature: on, off, on.
	r.blink(true)
	r.blink(false)
	r.blink(true)

	if err := r.retryConfig(ctx, "bus_init", metrics.ErrBusInit, func() error {
		return r.ctrl.InitBus(r.bitrate)
	}); err != nil {
		return err
	}
	r.log.Info("bus_init_ok", "bitrate", r.bitrate)

	// Post-init signature: off, on, off, on.
	r.blink(false)
	r.blink(true)
	r.blink(false)
	r.blink(true)

	r.setState(StateFilterConfig)
	if err := r.retryConfig(ctx, "filter_config", metrics.ErrFilterConfig, func() error {
		return r.ctrl.ConfigureFilters(r.table)
	}); err != nil {
		return err
	}
	r.log.Info("filter_config_ok")

	r.setState(StateStartupTx)
	if err := r.ctrl.TransmitFrame(StartupFrame()); err != nil {
		// Transmit faults are never retried; the frame is dropped.
		metrics.IncError(metrics.ErrRelayTx)
		r.log.Warn("startup_tx_error", "error", err)
	} else {
		metrics.IncTx()
	}

	// Indicator cleared marks the ready pattern.
	r.ind.Set(false)
	r.setState(StateRelaying)
	return r.loop(ctx)
}

// loop is the steady-state poll/fetch/transform/transmit cycle.
func (r *Relay) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !r.ctrl.FrameAvailable() {
			sleepFn(r.pollInterval)
			continue
		}
		fr, err := r.ctrl.ReceiveFrame()
		if err != nil {
			// Transient fetch fault: discard the attempt and re-poll.
			metrics.IncError(metrics.ErrRelayRx)
			r.log.Warn("relay_rx_error", "error", err)
			continue
		}
		metrics.IncRx()
		out := fr.ShiftID(r.offset)
		if err := r.ctrl.TransmitFrame(out); err != nil {
			metrics.IncError(metrics.ErrRelayTx)
			r.log.Warn("relay_tx_error", "id", out.ID, "error", err)
			continue
		}
		metrics.IncTx()
		metrics.IncRelayed()
	}
}
