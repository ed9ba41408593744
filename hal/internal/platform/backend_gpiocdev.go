//go:build linux && !rp2040 && !rp2350

package platform

import (
	"sync"
	"time"

	"github.com/warthog618/gpiod"

	"gpiohal-go/hal/internal/halio"
)

// gpiocdevBackend drives pins through the kernel GPIO character device. It is
// the preferred Linux backend: the kernel delivers real edge events, so no
// polling is needed for change notification.
type gpiocdevBackend struct {
	mu   sync.Mutex
	chip *gpiod.Chip
}

func newGpiocdev() *gpiocdevBackend { return &gpiocdevBackend{} }

func (b *gpiocdevBackend) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:           "gpiocdev",
		Platform:       platformName(),
		Priority:       20,
		SupportsIRQ:    true,
		OutputReadback: true,
		MaxPin:         27,
	}
}

func (b *gpiocdevBackend) Probe() error {
	_, err := b.ensureChip()
	return err
}

func (b *gpiocdevBackend) ensureChip() (*gpiod.Chip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chip != nil {
		return b.chip, nil
	}
	c, err := gpiod.NewChip("gpiochip0", gpiod.WithConsumer("gpiohal"))
	if err != nil {
		return nil, err
	}
	b.chip = c
	return c, nil
}

func (b *gpiocdevBackend) Open(number int) (halio.Pin, error) {
	if _, err := b.ensureChip(); err != nil {
		return nil, err
	}
	return &cdevPin{b: b, number: number}, nil
}

func (b *gpiocdevBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chip == nil {
		return nil
	}
	err := b.chip.Close()
	b.chip = nil
	return err
}

// cdevPin wraps one requested line. gpiod fixes edge-event options at request
// time, so arming and disarming notification re-requests the line.
type cdevPin struct {
	b      *gpiocdevBackend
	number int

	mu   sync.Mutex
	line *gpiod.Line
	pull halio.Pull
}

func cdevPullOpts(pull halio.Pull) []gpiod.LineReqOption {
	switch pull {
	case halio.PullUp:
		return []gpiod.LineReqOption{gpiod.WithPullUp}
	case halio.PullDown:
		return []gpiod.LineReqOption{gpiod.WithPullDown}
	default:
		return nil
	}
}

func (p *cdevPin) request(opts ...gpiod.LineReqOption) error {
	chip, err := p.b.ensureChip()
	if err != nil {
		return err
	}
	if p.line != nil {
		p.line.Close()
		p.line = nil
	}
	l, err := chip.RequestLine(p.number, opts...)
	if err != nil {
		return err
	}
	p.line = l
	return nil
}

func (p *cdevPin) ConfigureInput(pull halio.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pull = pull
	opts := append([]gpiod.LineReqOption{gpiod.AsInput}, cdevPullOpts(pull)...)
	return p.request(opts...)
}

func (p *cdevPin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.request(gpiod.AsOutput(boolToInt(initial)))
}

func (p *cdevPin) Set(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return errNotConfigured
	}
	return p.line.SetValue(boolToInt(level))
}

func (p *cdevPin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return false, errNotConfigured
	}
	v, err := p.line.Value()
	return v != 0, err
}

func (p *cdevPin) Number() int { return p.number }

func (p *cdevPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	return err
}

func (p *cdevPin) SetIRQ(edge halio.Edge, handler func(level bool, ts time.Time)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts := append([]gpiod.LineReqOption{gpiod.AsInput}, cdevPullOpts(p.pull)...)
	switch edge {
	case halio.EdgeRising:
		opts = append(opts, gpiod.WithRisingEdge)
	case halio.EdgeFalling:
		opts = append(opts, gpiod.WithFallingEdge)
	default:
		opts = append(opts, gpiod.WithBothEdges)
	}
	opts = append(opts, gpiod.WithEventHandler(func(ev gpiod.LineEvent) {
		handler(ev.Type == gpiod.LineEventRisingEdge, time.Now())
	}))
	return p.request(opts...)
}

func (p *cdevPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts := append([]gpiod.LineReqOption{gpiod.AsInput}, cdevPullOpts(p.pull)...)
	return p.request(opts...)
}
