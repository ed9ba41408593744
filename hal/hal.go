package hal

import (
	"context"
	"sync"
	"time"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
	"gpiohal-go/hal/internal/platform"
)

// defaultPollInterval bounds the sampling rate of the emulated notification
// path used for backends without native interrupts.
const defaultPollInterval = 2 * time.Millisecond

// HAL owns every open pin and bus in the process. The two ownership maps are
// the single source of truth for "is this pin/bus open"; all mutation of
// either map is serialised behind one lock.
type HAL struct {
	probe *platform.Probe
	disp  *dispatcher

	mu     sync.RWMutex
	pins   map[int]*Pin
	buses  map[string]*Bus
	closed bool

	cancel context.CancelFunc
}

type config struct {
	gpio         []halio.GPIOBackend
	i2c          []halio.I2CBackend
	pollInterval time.Duration
}

// Option configures a HAL at construction time.
type Option func(*config)

// WithPollInterval bounds the sampling interval of the polling fallback used
// when the selected GPIO backend has no native edge notification.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// withBackends replaces the platform's candidate backends. Tests use it to
// run the whole stack against simulated hardware.
func withBackends(gpio []halio.GPIOBackend, i2c []halio.I2CBackend) Option {
	return func(c *config) {
		c.gpio = gpio
		c.i2c = i2c
	}
}

// New builds a HAL over the platform's available driver backends. Backend
// probing is lazy: a missing driver surfaces as NoBackendAvailable on the
// first open that needs it, not here.
func New(opts ...Option) *HAL {
	cfg := config{pollInterval: defaultPollInterval}
	for _, o := range opts {
		o(&cfg)
	}
	var probe *platform.Probe
	if cfg.gpio != nil || cfg.i2c != nil {
		probe = platform.NewProbeWith(cfg.gpio, cfg.i2c)
	} else {
		probe = platform.NewProbe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &HAL{
		probe:  probe,
		pins:   map[int]*Pin{},
		buses:  map[string]*Bus{},
		cancel: cancel,
	}
	h.disp = newDispatcher(64, cfg.pollInterval)
	h.disp.start(ctx)
	return h
}

// Platform reports the detected platform, e.g. the devicetree model string on
// a Raspberry Pi.
func (h *HAL) Platform() string { return platform.Name() }

// Backends lists every candidate backend on this platform in rank order, for
// diagnostics.
func (h *HAL) Backends() []Descriptor { return h.probe.Descriptors() }

// Close releases every open pin and bus and stops the dispatch engine. Buses
// with a transaction in flight are closed once the holder releases. Close is
// the process-exit path: it never fails because a resource was busy.
func (h *HAL) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	pins := make([]*Pin, 0, len(h.pins))
	for _, p := range h.pins {
		pins = append(pins, p)
	}
	buses := make([]*Bus, 0, len(h.buses))
	for _, b := range h.buses {
		buses = append(buses, b)
	}
	h.mu.Unlock()

	var first error
	for _, p := range pins {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, b := range buses {
		if err := b.closeWait(); err != nil && first == nil {
			first = err
		}
	}
	h.cancel()
	if err := h.probe.Close(); err != nil && first == nil {
		first = errcode.Wrap("platform", "Close", err)
	}
	return first
}

func (h *HAL) checkOpen(op string) error {
	if h.closed {
		return errcode.New(errcode.Error, op, "hal is closed")
	}
	return nil
}
