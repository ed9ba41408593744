//go:build linux && !rp2040 && !rp2350

package platform

import (
	"errors"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"gpiohal-go/hal/internal/halio"
)

var errNotConfigured = errors.New("pin not configured")

// rpioBackend drives pins through the /dev/gpiomem register mapping. The
// mapping has no change-notification mechanism, so pins opened here do not
// implement halio.IRQPin and edge callbacks fall back to polling.
type rpioBackend struct {
	mu     sync.Mutex
	opened bool
}

func newRpio() *rpioBackend { return &rpioBackend{} }

func (b *rpioBackend) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:           "rpio-mmap",
		Platform:       platformName(),
		Priority:       10,
		SupportsIRQ:    false,
		OutputReadback: true,
		MaxPin:         27,
	}
}

func (b *rpioBackend) Probe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}
	if err := rpio.Open(); err != nil {
		return err
	}
	b.opened = true
	return nil
}

func (b *rpioBackend) Open(number int) (halio.Pin, error) {
	if err := b.Probe(); err != nil {
		return nil, err
	}
	return &rpioPin{pin: rpio.Pin(number)}, nil
}

func (b *rpioBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.opened {
		return nil
	}
	b.opened = false
	return rpio.Close()
}

type rpioPin struct {
	pin rpio.Pin
}

func (p *rpioPin) ConfigureInput(pull halio.Pull) error {
	p.pin.Input()
	switch pull {
	case halio.PullUp:
		p.pin.Pull(rpio.PullUp)
	case halio.PullDown:
		p.pin.Pull(rpio.PullDown)
	default:
		p.pin.Pull(rpio.PullOff)
	}
	return nil
}

func (p *rpioPin) ConfigureOutput(initial bool) error {
	p.pin.Output()
	return p.Set(initial)
}

func (p *rpioPin) Set(level bool) error {
	if level {
		p.pin.Write(rpio.High)
	} else {
		p.pin.Write(rpio.Low)
	}
	return nil
}

func (p *rpioPin) Get() (bool, error) {
	return p.pin.Read() == rpio.High, nil
}

func (p *rpioPin) Number() int { return int(p.pin) }

func (p *rpioPin) Close() error {
	// The register mapping stays shared; nothing per-pin to release.
	return nil
}
