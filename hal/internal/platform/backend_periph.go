//go:build linux && !rp2040 && !rp2350

package platform

import (
	"errors"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"gpiohal-go/hal/internal/halio"
)

// periphI2C opens hardware I2C controllers through the periph.io registry.
type periphI2C struct {
	once    sync.Once
	initErr error
}

func newPeriphI2C() *periphI2C { return &periphI2C{} }

func (b *periphI2C) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:                "periph-i2c",
		Platform:            platformName(),
		Priority:            20,
		SupportsHardwareI2C: true,
		MaxI2CSpeedHz:       400_000,
	}
}

func (b *periphI2C) Probe() error {
	b.once.Do(func() {
		if _, err := host.Init(); err != nil {
			b.initErr = err
			return
		}
		if len(i2creg.All()) == 0 {
			b.initErr = errors.New("periph: no I2C controllers registered")
		}
	})
	return b.initErr
}

func (b *periphI2C) Addresses(id halio.BusID) bool { return id.Valid() && !id.Soft() }

func (b *periphI2C) Open(id halio.BusID, freqHz uint32) (halio.I2C, error) {
	if err := b.Probe(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(strconv.Itoa(id.Index))
	if err != nil {
		return nil, err
	}
	if freqHz > 0 {
		// Best effort; sysfs buses fix the clock in the devicetree.
		_ = bus.SetSpeed(physic.Frequency(freqHz) * physic.Hertz)
	}
	return &periphBus{bus: bus}, nil
}

type periphBus struct {
	bus i2c.BusCloser
}

func (p *periphBus) Tx(addr uint16, w, r []byte) error { return p.bus.Tx(addr, w, r) }

func (p *periphBus) Close() error { return p.bus.Close() }
