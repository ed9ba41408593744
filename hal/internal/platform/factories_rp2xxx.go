//go:build rp2040 || rp2350

package platform

import (
	"errors"
	"time"

	"machine"

	"tinygo.org/x/drivers/i2csoft"

	"gpiohal-go/hal/internal/halio"
)

// On the RP2 family (Pico / Pico 2) the machine package is the only GPIO
// driver and exposes real pin interrupts. Hardware I2C runs on the two
// on-chip controllers; arbitrary pin pairs are served by the tinygo bit-bang
// driver.

func gpioBackends() []halio.GPIOBackend {
	return []halio.GPIOBackend{rp2GPIO{}}
}

func i2cBackends() []halio.I2CBackend {
	return []halio.I2CBackend{rp2I2C{}, rp2SoftI2C{}}
}

func platformName() string { return "Raspberry Pi Pico (RP2)" }

// ----------------------------- GPIO ------------------------------------------

type rp2GPIO struct{}

func (rp2GPIO) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:           "rp2-machine",
		Platform:       platformName(),
		Priority:       20,
		SupportsIRQ:    true,
		OutputReadback: true,
		MaxPin:         29,
	}
}

func (rp2GPIO) Probe() error { return nil }

func (rp2GPIO) Open(number int) (halio.Pin, error) {
	if number < 0 || number > 29 {
		return nil, errors.New("rp2: no such GP line")
	}
	return &rp2Pin{pin: machine.Pin(number)}, nil
}

func (rp2GPIO) Close() error { return nil }

type rp2Pin struct {
	pin machine.Pin
}

func (p *rp2Pin) ConfigureInput(pull halio.Pull) error {
	mode := machine.PinInput
	switch pull {
	case halio.PullUp:
		mode = machine.PinInputPullup
	case halio.PullDown:
		mode = machine.PinInputPulldown
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *rp2Pin) ConfigureOutput(initial bool) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(initial)
	return nil
}

func (p *rp2Pin) Set(level bool) error {
	p.pin.Set(level)
	return nil
}

func (p *rp2Pin) Get() (bool, error) { return p.pin.Get(), nil }

func (p *rp2Pin) Number() int { return int(p.pin) }

func (p *rp2Pin) Close() error {
	_ = p.pin.SetInterrupt(0, nil)
	return nil
}

func (p *rp2Pin) SetIRQ(edge halio.Edge, handler func(level bool, ts time.Time)) error {
	var change machine.PinChange
	switch edge {
	case halio.EdgeRising:
		change = machine.PinRising
	case halio.EdgeFalling:
		change = machine.PinFalling
	default:
		change = machine.PinRising | machine.PinFalling
	}
	// ISR context: capture level and timestamp, nothing more.
	return p.pin.SetInterrupt(change, func(pin machine.Pin) {
		handler(pin.Get(), time.Now())
	})
}

func (p *rp2Pin) ClearIRQ() error { return p.pin.SetInterrupt(0, nil) }

// ----------------------------- I2C -------------------------------------------

type rp2I2C struct{}

func (rp2I2C) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:                "rp2-i2c",
		Platform:            platformName(),
		Priority:            20,
		SupportsHardwareI2C: true,
		MaxI2CSpeedHz:       400_000,
	}
}

func (rp2I2C) Probe() error { return nil }

func (rp2I2C) Addresses(id halio.BusID) bool {
	return id.Valid() && !id.Soft() && (id.Index == 0 || id.Index == 1)
}

func (rp2I2C) Open(id halio.BusID, freqHz uint32) (halio.I2C, error) {
	if freqHz == 0 {
		freqHz = 100_000
	}
	var bus *machine.I2C
	cfg := machine.I2CConfig{Frequency: freqHz}
	if id.Index == 0 {
		bus = machine.I2C0
		cfg.SDA = machine.I2C0_SDA_PIN
		cfg.SCL = machine.I2C0_SCL_PIN
	} else {
		bus = machine.I2C1
		cfg.SDA = machine.I2C1_SDA_PIN
		cfg.SCL = machine.I2C1_SCL_PIN
	}
	if err := bus.Configure(cfg); err != nil {
		return nil, err
	}
	return mcuBus{bus}, nil
}

type rp2SoftI2C struct{}

func (rp2SoftI2C) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:                "rp2-i2csoft",
		Platform:            platformName(),
		Priority:            10,
		SupportsHardwareI2C: false,
		MaxI2CSpeedHz:       100_000,
	}
}

func (rp2SoftI2C) Probe() error { return nil }

func (rp2SoftI2C) Addresses(id halio.BusID) bool { return id.Valid() && id.Soft() }

func (rp2SoftI2C) Open(id halio.BusID, freqHz uint32) (halio.I2C, error) {
	if freqHz == 0 {
		freqHz = 100_000
	}
	bus := i2csoft.New(machine.Pin(id.SCL), machine.Pin(id.SDA))
	bus.Configure(i2csoft.I2CConfig{Frequency: freqHz})
	return mcuBus{bus}, nil
}

// mcuBus adapts a tinygo drivers.I2C-shaped bus; the on-chip controllers have
// no close semantics.
type mcuBus struct {
	bus interface {
		Tx(addr uint16, w, r []byte) error
	}
}

func (m mcuBus) Tx(addr uint16, w, r []byte) error { return m.bus.Tx(addr, w, r) }

func (m mcuBus) Close() error { return nil }
