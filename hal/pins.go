package hal

import (
	"sync"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
	"gpiohal-go/x/conv"
)

// PinOption configures one OpenPin call.
type PinOption func(*pinConfig)

type pinConfig struct {
	pull      Pull
	initial   Level
	replace   bool
	forEdge   bool
	openDrain bool
}

// WithPull selects the pull resistor for an input pin.
func WithPull(p Pull) PinOption {
	return func(c *pinConfig) { c.pull = p }
}

// WithInitialLevel sets the level an output pin is driven to on open. The
// default is Low.
func WithInitialLevel(l Level) PinOption {
	return func(c *pinConfig) { c.initial = l }
}

// Replace makes OpenPin close an already-open pin of the same number and
// reopen it, instead of failing with PinAlreadyOpen. Reopening never silently
// aliases: without this option an open pin stays exclusively owned.
func Replace() PinOption {
	return func(c *pinConfig) { c.replace = true }
}

// OpenDrain makes an output pin emulate open-drain signalling: Low is driven
// actively, High releases the line to float through its pull-up, so several
// parties can share a wired-AND line. Only valid with the Output direction.
func OpenDrain() PinOption {
	return func(c *pinConfig) { c.openDrain = true }
}

// ForEdgeDetection declares that the caller intends to register an edge
// callback, steering backend selection towards drivers with native interrupt
// delivery.
func ForEdgeDetection() PinOption {
	return func(c *pinConfig) { c.forEdge = true }
}

// Pin is one exclusively-owned GPIO line.
type Pin struct {
	h      *HAL
	number int
	dir    Direction
	pull   Pull
	desc   Descriptor
	bk     halio.Pin

	openDrain bool

	mu        sync.Mutex
	closed    bool
	lastWrite Level
}

// OpenPin claims the logical pin and configures it for the given direction.
// A pin that is already owned by a live Pin fails with PinAlreadyOpen; a
// number outside the platform's range fails with InvalidPin; driver failures
// surface as BackendError and leave nothing open.
func (h *HAL) OpenPin(number int, dir Direction, opts ...PinOption) (*Pin, error) {
	const op = "OpenPin"
	cfg := pinConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.openDrain && dir != Output {
		return nil, errcode.New(errcode.WrongDirection, op, "open-drain needs the Output direction")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(op); err != nil {
		return nil, err
	}

	backend, err := h.probe.SelectGPIO(cfg.forEdge)
	if err != nil {
		return nil, err
	}
	desc := backend.Describe()
	if number < 0 || number > desc.MaxPin {
		return nil, errcode.New(errcode.InvalidPin, op, "pin "+itoa(number)+" outside 0.."+itoa(desc.MaxPin))
	}
	if existing := h.pins[number]; existing != nil {
		if !cfg.replace {
			return nil, errcode.New(errcode.PinAlreadyOpen, op, "pin "+itoa(number))
		}
		h.mu.Unlock()
		err := existing.Close()
		h.mu.Lock()
		if err != nil {
			return nil, err
		}
		if h.pins[number] != nil {
			// Lost a race with another opener while replacing.
			return nil, errcode.New(errcode.PinAlreadyOpen, op, "pin "+itoa(number))
		}
	}

	bk, err := backend.Open(number)
	if err != nil {
		return nil, errcode.Wrap(desc.Name, op, err)
	}
	switch {
	case dir == Input:
		err = bk.ConfigureInput(halioPull(cfg.pull))
	case cfg.openDrain && cfg.initial == High:
		// Released: the pull-up holds the line high.
		err = bk.ConfigureInput(halio.PullUp)
	default:
		err = bk.ConfigureOutput(bool(cfg.initial))
	}
	if err != nil {
		_ = bk.Close()
		return nil, errcode.Wrap(desc.Name, op, err)
	}

	p := &Pin{
		h:         h,
		number:    number,
		dir:       dir,
		pull:      cfg.pull,
		desc:      desc,
		bk:        bk,
		openDrain: cfg.openDrain,
		lastWrite: cfg.initial,
	}
	h.pins[number] = p
	return p, nil
}

// Number returns the logical pin number.
func (p *Pin) Number() int { return p.number }

// Direction returns the direction the pin was opened with.
func (p *Pin) Direction() Direction { return p.dir }

// Backend describes the driver serving this pin.
func (p *Pin) Backend() Descriptor { return p.desc }

// SetLevel drives an output pin. Input pins fail with WrongDirection.
func (p *Pin) SetLevel(l Level) error {
	const op = "SetLevel"
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setLocked(op, l)
}

func (p *Pin) setLocked(op string, l Level) error {
	if p.closed {
		return errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" is closed")
	}
	if p.dir != Output {
		return errcode.New(errcode.WrongDirection, op, "pin "+itoa(p.number)+" is an input")
	}
	var err error
	switch {
	case !p.openDrain:
		err = p.bk.Set(bool(l))
	case l == High:
		// Release the line; the pull-up raises it.
		err = p.bk.ConfigureInput(halio.PullUp)
	default:
		err = p.bk.ConfigureOutput(false)
	}
	if err != nil {
		return errcode.Wrap(p.desc.Name, op, err)
	}
	p.lastWrite = l
	return nil
}

// Level reads the pin. For outputs it reflects the wire where the backend
// supports readback, otherwise the last written level.
func (p *Pin) Level() (Level, error) {
	const op = "Level"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Low, errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" is closed")
	}
	// Open-drain lines are always read from the wire: another party may be
	// holding a released line low.
	if p.dir == Output && !p.desc.OutputReadback && !p.openDrain {
		return p.lastWrite, nil
	}
	v, err := p.bk.Get()
	if err != nil {
		return Low, errcode.Wrap(p.desc.Name, op, err)
	}
	return Level(v), nil
}

// Toggle inverts an output pin.
func (p *Pin) Toggle() error {
	const op = "Toggle"
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.lastWrite
	if p.dir == Output && p.desc.OutputReadback && !p.openDrain && !p.closed {
		if v, err := p.bk.Get(); err == nil {
			cur = Level(v)
		}
	}
	return p.setLocked(op, !cur)
}

// Close deregisters any edge callback, releases the driver handle and gives
// up ownership of the pin number. Closing an already-closed pin is a no-op,
// so cleanup paths can call it unconditionally.
func (p *Pin) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Deregistration completes before the handle goes away; a callback can
	// never fire against a freed pin.
	p.h.disp.unwatch(p)

	var err error
	if cerr := p.bk.Close(); cerr != nil {
		err = errcode.Wrap(p.desc.Name, "Close", cerr)
	}

	p.h.mu.Lock()
	if p.h.pins[p.number] == p {
		delete(p.h.pins, p.number)
	}
	p.h.mu.Unlock()
	return err
}

func itoa(n int) string {
	var buf [20]byte
	return string(conv.Itoa(buf[:], int64(n)))
}
