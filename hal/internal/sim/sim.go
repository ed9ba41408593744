// Package sim provides in-memory GPIO and I2C backends. The host build's
// platform factories hand these out so the library stays usable off-target,
// and the test suites drive them to script hardware behaviour.
package sim

import (
	"errors"
	"sync"
	"time"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
)

const maxPin = 27 // BCM header layout

// GPIO is a simulated GPIO backend. With IRQ support enabled its pins
// implement halio.IRQPin; without it they only support polling.
type GPIO struct {
	mu     sync.Mutex
	desc   halio.Descriptor
	pins   map[int]*Pin
	closed bool

	// ProbeErr, when set, makes the backend report as unavailable.
	ProbeErr error
	// DenyEdge makes SetIRQ reject that edge selection, for exercising
	// unsupported-edge handling.
	DenyEdge halio.Edge
}

// NewGPIO builds a simulated GPIO backend. irq selects whether pins offer
// native edge notification.
func NewGPIO(name string, priority int, irq bool) *GPIO {
	return &GPIO{
		desc: halio.Descriptor{
			Name:           name,
			Platform:       "sim",
			Priority:       priority,
			SupportsIRQ:    irq,
			OutputReadback: true,
			MaxPin:         maxPin,
		},
		pins: map[int]*Pin{},
	}
}

func (g *GPIO) Describe() halio.Descriptor { return g.desc }

func (g *GPIO) Probe() error { return g.ProbeErr }

func (g *GPIO) Open(number int) (halio.Pin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.New("sim: backend closed")
	}
	p, ok := g.pins[number]
	if !ok {
		p = &Pin{g: g, number: number}
		g.pins[number] = p
	}
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
	if g.desc.SupportsIRQ {
		return &irqPin{p}, nil
	}
	return p, nil
}

func (g *GPIO) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// PinState returns the simulated pin behind number so tests can stimulate it,
// creating it if nothing opened it yet.
func (g *GPIO) PinState(number int) *Pin {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[number]
	if !ok {
		p = &Pin{g: g, number: number}
		g.pins[number] = p
	}
	return p
}

// Pin is a simulated GPIO line. Drive changes the wire level as if external
// hardware toggled it.
type Pin struct {
	g      *GPIO
	mu     sync.Mutex
	number int

	output bool
	pull   halio.Pull
	level  bool
	closed bool

	irqEdge halio.Edge
	irqFn   func(level bool, ts time.Time)

	// FailConfigure, when set, is returned by the next Configure call to
	// model a driver-level failure.
	FailConfigure error
	// Writes records every Set in order.
	Writes []bool
}

func (p *Pin) ConfigureInput(pull halio.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailConfigure != nil {
		err := p.FailConfigure
		p.FailConfigure = nil
		return err
	}
	p.output = false
	p.pull = pull
	// A pull resistor settles the wire when nothing drives it.
	switch pull {
	case halio.PullUp:
		p.level = true
	case halio.PullDown:
		p.level = false
	}
	return nil
}

func (p *Pin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailConfigure != nil {
		err := p.FailConfigure
		p.FailConfigure = nil
		return err
	}
	p.output = true
	p.level = initial
	return nil
}

func (p *Pin) Set(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("sim: pin closed")
	}
	p.level = level
	p.Writes = append(p.Writes, level)
	return nil
}

func (p *Pin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, errors.New("sim: pin closed")
	}
	return p.level, nil
}

func (p *Pin) Number() int { return p.number }

func (p *Pin) Close() error {
	p.mu.Lock()
	p.closed = true
	p.irqFn = nil
	p.irqEdge = halio.EdgeNone
	p.mu.Unlock()
	return nil
}

// Drive simulates an external level change on the wire. If an IRQ handler is
// armed for the resulting transition it fires synchronously, which keeps
// scripted event sequences totally ordered.
func (p *Pin) Drive(level bool) {
	p.mu.Lock()
	prev := p.level
	p.level = level
	fn := p.irqFn
	edge := p.irqEdge
	p.mu.Unlock()

	if fn == nil || level == prev {
		return
	}
	if edge.Wants(level) {
		fn(level, time.Now())
	}
}

// Level reports the current wire level without the open/closed checks.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

type irqPin struct{ *Pin }

func (p *irqPin) SetIRQ(edge halio.Edge, handler func(level bool, ts time.Time)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if deny := p.g.DenyEdge; deny != halio.EdgeNone && deny == edge {
		return errcode.UnsupportedEdgeMode
	}
	p.irqEdge = edge
	p.irqFn = handler
	return nil
}

func (p *irqPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqFn = nil
	p.irqEdge = halio.EdgeNone
	return nil
}
