package sim

import (
	"errors"
	"sync"
	"time"

	"gpiohal-go/hal/internal/halio"
)

// I2CBackend is a simulated I2C backend. It can pose as a hardware controller
// or as a bit-banged pin-pair bus, and exposes a byte-level trace so tests can
// check transaction serialisation.
type I2CBackend struct {
	mu    sync.Mutex
	desc  halio.Descriptor
	buses map[string]*I2CBus

	// Hardware selects which bus ids this backend claims to address.
	Hardware bool
	// ProbeErr, when set, makes the backend report as unavailable.
	ProbeErr error
	// Devices maps target addresses to simulated register files, shared by
	// every bus this backend opens.
	Devices map[uint16]*Device
	// ByteDelay inserts a pause between traced bytes so broken locking
	// shows up as interleaving.
	ByteDelay time.Duration
}

// NewI2C builds a simulated I2C backend.
func NewI2C(name string, priority int, hardware bool) *I2CBackend {
	maxHz := uint32(400_000)
	if !hardware {
		maxHz = 100_000
	}
	return &I2CBackend{
		desc: halio.Descriptor{
			Name:                name,
			Platform:            "sim",
			Priority:            priority,
			SupportsHardwareI2C: hardware,
			MaxI2CSpeedHz:       maxHz,
		},
		buses:    map[string]*I2CBus{},
		Hardware: hardware,
		Devices:  map[uint16]*Device{},
	}
}

func (b *I2CBackend) Describe() halio.Descriptor { return b.desc }

func (b *I2CBackend) Probe() error { return b.ProbeErr }

func (b *I2CBackend) Addresses(id halio.BusID) bool {
	if !id.Valid() {
		return false
	}
	return id.Soft() != b.Hardware
}

func (b *I2CBackend) Open(id halio.BusID, freqHz uint32) (halio.I2C, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bus, ok := b.buses[id.String()]
	if !ok {
		bus = &I2CBus{backend: b, id: id}
		b.buses[id.String()] = bus
	}
	bus.mu.Lock()
	bus.closed = false
	bus.freqHz = freqHz
	bus.mu.Unlock()
	return bus, nil
}

// Bus returns the simulated bus for id so tests can read its trace, creating
// it if nothing opened it yet.
func (b *I2CBackend) Bus(id halio.BusID) *I2CBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	bus, ok := b.buses[id.String()]
	if !ok {
		bus = &I2CBus{backend: b, id: id}
		b.buses[id.String()] = bus
	}
	return bus
}

// AddDevice attaches a register-file device at addr.
func (b *I2CBackend) AddDevice(addr uint16, d *Device) {
	b.mu.Lock()
	b.Devices[addr] = d
	b.mu.Unlock()
}

// I2CBus is one simulated open bus handle.
type I2CBus struct {
	backend *I2CBackend
	id      halio.BusID

	mu     sync.Mutex
	freqHz uint32
	closed bool
	trace  []byte
}

// Tx performs one write-then-read exchange against the simulated device at
// addr. The trace is appended one byte at a time, deliberately without holding
// a lock across the whole exchange: serialisation is the arbiter's job, and a
// missing lock there produces an interleaved trace.
func (s *I2CBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("sim: bus closed")
	}
	s.mu.Unlock()

	s.backend.mu.Lock()
	dev := s.backend.Devices[addr]
	delay := s.backend.ByteDelay
	s.backend.mu.Unlock()
	if dev == nil {
		return errors.New("sim: no ack from device")
	}

	for _, by := range w {
		s.appendTrace(by)
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	dev.write(w)
	if len(r) > 0 {
		dev.read(r)
		for _, by := range r {
			s.appendTrace(by)
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}
	return nil
}

func (s *I2CBus) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *I2CBus) appendTrace(b byte) {
	s.mu.Lock()
	s.trace = append(s.trace, b)
	s.mu.Unlock()
}

// FreqHz reports the clock rate the last Open configured.
func (s *I2CBus) FreqHz() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqHz
}

// Trace returns a copy of every byte that crossed the simulated wire, in
// order.
func (s *I2CBus) Trace() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.trace...)
}

// Device is a 256-register I2C target. The first written byte selects the
// register pointer; further writes store sequentially and reads return from
// the pointer onward.
type Device struct {
	mu   sync.Mutex
	Regs [256]byte
	ptr  uint8
}

func (d *Device) write(w []byte) {
	if len(w) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ptr = w[0]
	for i, b := range w[1:] {
		d.Regs[(int(d.ptr)+i)&0xff] = b
	}
}

func (d *Device) read(r []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range r {
		r[i] = d.Regs[(int(d.ptr)+i)&0xff]
	}
}
