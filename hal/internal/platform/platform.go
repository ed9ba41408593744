// Package platform decides which driver backend serves a feature request on
// the running platform. Candidate backends come from per-build factories; the
// prober checks availability once and caches the result for the process
// lifetime.
package platform

import (
	"sort"
	"sync"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
)

// Probe ranks the candidate backends and answers feature requests. Probing a
// backend may initialise its driver (memory map, chip open) but is otherwise
// side-effect-free and happens at most once per backend.
type Probe struct {
	mu     sync.Mutex
	gpio   []halio.GPIOBackend
	i2c    []halio.I2CBackend
	probed map[string]error
}

// NewProbe builds a prober over the platform's default backends.
func NewProbe() *Probe {
	return NewProbeWith(gpioBackends(), i2cBackends())
}

// NewProbeWith builds a prober over explicit candidates, highest priority
// first. Tests inject simulated backends here.
func NewProbeWith(gpio []halio.GPIOBackend, i2c []halio.I2CBackend) *Probe {
	p := &Probe{
		gpio:   append([]halio.GPIOBackend(nil), gpio...),
		i2c:    append([]halio.I2CBackend(nil), i2c...),
		probed: map[string]error{},
	}
	sort.SliceStable(p.gpio, func(i, j int) bool {
		return p.gpio[i].Describe().Priority > p.gpio[j].Describe().Priority
	})
	sort.SliceStable(p.i2c, func(i, j int) bool {
		return p.i2c[i].Describe().Priority > p.i2c[j].Describe().Priority
	})
	return p
}

type prober interface {
	Describe() halio.Descriptor
	Probe() error
}

func (p *Probe) available(b prober) bool {
	name := b.Describe().Name
	p.mu.Lock()
	err, done := p.probed[name]
	if !done {
		err = b.Probe()
		p.probed[name] = err
	}
	p.mu.Unlock()
	return err == nil
}

// SelectGPIO returns the best available GPIO backend. When needIRQ is set,
// backends with native edge notification are preferred; a polling-only
// backend is still returned if nothing better is viable, since the dispatch
// engine emulates notification by polling.
func (p *Probe) SelectGPIO(needIRQ bool) (halio.GPIOBackend, error) {
	if needIRQ {
		for _, b := range p.gpio {
			if b.Describe().SupportsIRQ && p.available(b) {
				return b, nil
			}
		}
	}
	for _, b := range p.gpio {
		if p.available(b) {
			return b, nil
		}
	}
	return nil, errcode.New(errcode.NoBackendAvailable, "SelectGPIO", "no usable GPIO driver")
}

// SelectI2C returns the best available backend that can address the given bus
// identifier.
func (p *Probe) SelectI2C(id halio.BusID) (halio.I2CBackend, error) {
	if !id.Valid() {
		return nil, errcode.New(errcode.InvalidBusId, "SelectI2C", id.String())
	}
	for _, b := range p.i2c {
		if b.Addresses(id) && p.available(b) {
			return b, nil
		}
	}
	return nil, errcode.New(errcode.NoBackendAvailable, "SelectI2C", "no driver addresses "+id.String())
}

// Descriptors lists every candidate backend for diagnostics, in rank order.
func (p *Probe) Descriptors() []halio.Descriptor {
	out := make([]halio.Descriptor, 0, len(p.gpio)+len(p.i2c))
	for _, b := range p.gpio {
		out = append(out, b.Describe())
	}
	for _, b := range p.i2c {
		out = append(out, b.Describe())
	}
	return out
}

// Close releases chip-wide resources held by probed GPIO backends.
func (p *Probe) Close() error {
	var first error
	for _, b := range p.gpio {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Name reports the running platform, e.g. the devicetree model string on a
// Raspberry Pi.
func Name() string { return platformName() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
