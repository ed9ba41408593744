//go:build linux && !rp2040 && !rp2350

package platform

import (
	"errors"
	"path/filepath"
	"strconv"
	"sync"

	xi2c "golang.org/x/exp/io/i2c"
	"golang.org/x/exp/io/i2c/driver"

	"gpiohal-go/hal/internal/halio"
)

// devfsI2C talks to /dev/i2c-N through the i2c-dev ioctl interface. It is the
// fallback hardware backend when the periph.io registry has nothing to offer.
type devfsI2C struct{}

func newDevfsI2C() *devfsI2C { return &devfsI2C{} }

func (b *devfsI2C) Describe() halio.Descriptor {
	return halio.Descriptor{
		Name:                "devfs-i2c",
		Platform:            platformName(),
		Priority:            10,
		SupportsHardwareI2C: true,
		MaxI2CSpeedHz:       100_000,
	}
}

func (b *devfsI2C) Probe() error {
	m, err := filepath.Glob("/dev/i2c-*")
	if err != nil || len(m) == 0 {
		return errors.New("devfs: no /dev/i2c-* nodes (is i2c-dev loaded?)")
	}
	return nil
}

func (b *devfsI2C) Addresses(id halio.BusID) bool { return id.Valid() && !id.Soft() }

func (b *devfsI2C) Open(id halio.BusID, _ uint32) (halio.I2C, error) {
	// The devfs clock is fixed by the kernel; the requested frequency only
	// feeds the descriptor the caller sees.
	return &devfsBus{dev: "/dev/i2c-" + strconv.Itoa(id.Index), conns: map[uint16]driver.Conn{}}, nil
}

// devfsBus caches one ioctl connection per target address, since the slave
// address is bound at open time.
type devfsBus struct {
	mu    sync.Mutex
	dev   string
	conns map[uint16]driver.Conn
}

func (d *devfsBus) conn(addr uint16) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[addr]; ok {
		return c, nil
	}
	c, err := (&xi2c.Devfs{Dev: d.dev}).Open(int(addr), false)
	if err != nil {
		return nil, err
	}
	d.conns[addr] = c
	return c, nil
}

func (d *devfsBus) Tx(addr uint16, w, r []byte) error {
	c, err := d.conn(addr)
	if err != nil {
		return err
	}
	return c.Tx(w, r)
}

func (d *devfsBus) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for addr, c := range d.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.conns, addr)
	}
	return first
}
