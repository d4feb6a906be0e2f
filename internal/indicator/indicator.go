// Package indicator abstracts the single binary diagnostic output the
// relay toggles during boot. Production deployments point it at a
// sysfs LED; everything else gets a logging fallback.
package indicator

import (
	"fmt"
	"os"
	"sync"

	"github.com/mlasek/can-echo-node/internal/logging"
	"github.com/mlasek/can-echo-node/internal/metrics"
)

// Indicator is a two-state diagnostic output.
type Indicator interface {
	Set(on bool)
	Toggle()
}

// LED drives a Linux sysfs LED through its brightness attribute
// (e.g. /sys/class/leds/status/brightness).
type LED struct {
	mu   sync.Mutex
	path string
	on   bool
}

// OpenLED verifies the brightness attribute is writable and returns
// the LED driver with the output cleared.
func OpenLED(path string) (*LED, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open led %s: %w", path, err)
	}
	_ = f.Close()
	l := &LED{path: path}
	l.Set(false)
	return l, nil
}

func (l *LED) Set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(l.path, v, 0); err != nil {
		// The indicator is best-effort: a broken LED must not stall boot.
		metrics.IncError(metrics.ErrIndicator)
		logging.L().Warn("indicator_write_error", "path", l.path, "error", err)
	}
}

func (l *LED) Toggle() {
	l.mu.Lock()
	on := l.on
	l.mu.Unlock()
	l.Set(!on)
}

// Log reports indicator transitions through the structured logger.
// Used when no LED device is configured.
type Log struct {
	mu sync.Mutex
	on bool
}

func (i *Log) Set(on bool) {
	i.mu.Lock()
	changed := i.on != on
	i.on = on
	i.mu.Unlock()
	if changed {
		logging.L().Debug("indicator", "on", on)
	}
}

func (i *Log) Toggle() {
	i.mu.Lock()
	i.on = !i.on
	on := i.on
	i.mu.Unlock()
	logging.L().Debug("indicator", "on", on)
}
