// Package aht20 drives the AHT20 temperature/humidity sensor over an
// arbitrated I2C bus. It doubles as the reference for writing device drivers
// on top of the bus API: composite exchanges go through Transaction so the
// write and the repeated-start read stay coupled on a shared bus.
//
// Two-phase measurement:
//
//	d.Trigger()          // start a conversion (fast)
//	err := d.Collect(&s) // fetch when ready; ErrNotReady while converting
//
// d.Read() wraps both with bounded polling.
//
// Conversion helpers avoid floating-point and return tenths of units
// (deci-degrees C and deci-%RH), so the driver stays usable on MCU builds.
package aht20

import (
	"errors"
	"time"

	"gpiohal-go/hal"
)

// Address is the fixed AHT20 target address.
const Address = 0x38

const (
	cmdTrigger    = 0xac
	cmdInitialize = 0xbe
	cmdSoftReset  = 0xba
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrNotReady = errors.New("aht20: not ready")
)

// Bus is the slice of the bus API the driver needs. *hal.Bus satisfies it.
type Bus interface {
	WriteBytes(addr uint16, data []byte) error
	ReadBytes(addr uint16, count int) ([]byte, error)
	Transaction(addr uint16, ops []hal.TxOp) ([][]byte, error)
}

// Config tunes timing behaviour. Zero fields take defaults.
type Config struct {
	Address uint16
	// PollInterval paces Collect attempts inside Read. Default 15 ms.
	PollInterval time.Duration
	// CollectTimeout bounds the total wait in Read. Default 250 ms.
	CollectTimeout time.Duration
}

func (c *Config) fill() {
	if c.Address == 0 {
		c.Address = Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Millisecond
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 250 * time.Millisecond
	}
}

// Device is one sensor on a bus.
type Device struct {
	bus Bus
	cfg Config

	humidity uint32
	temp     uint32
}

// New wires up a sensor and initialises it if its calibration bit is clear.
func New(bus Bus, cfgs ...Config) (*Device, error) {
	d := &Device{bus: bus}
	if len(cfgs) > 0 {
		d.cfg = cfgs[0]
	}
	d.cfg.fill()

	st, err := d.Status()
	if err == nil && st&statusCalibrated != 0 {
		return d, nil
	}
	if err := d.bus.WriteBytes(d.cfg.Address, []byte{cmdInitialize, 0x08, 0x00}); err != nil {
		return nil, err
	}
	time.Sleep(10 * time.Millisecond)
	return d, nil
}

// Reset issues a soft reset. The part wants ~20ms before the next command.
func (d *Device) Reset() error {
	return d.bus.WriteBytes(d.cfg.Address, []byte{cmdSoftReset})
}

// Status reads the status byte.
func (d *Device) Status() (byte, error) {
	res, err := d.bus.Transaction(d.cfg.Address, []hal.TxOp{
		hal.TxWrite(cmdStatus),
		hal.TxRead(1),
	})
	if err != nil {
		return 0, err
	}
	return res[1][0], nil
}

// Trigger starts a conversion. The part needs ~80ms before Collect succeeds.
func (d *Device) Trigger() error {
	return d.bus.WriteBytes(d.cfg.Address, []byte{cmdTrigger, 0x33, 0x00})
}

// Collect reads one measurement into the device cache and, when non-nil, out.
// ErrNotReady means the conversion is still running; bus errors pass through.
func (d *Device) Collect(out *Sample) error {
	data, err := d.bus.ReadBytes(d.cfg.Address, 7)
	if err != nil {
		return err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return ErrNotReady
	}
	hraw := (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	traw := (uint32(data[3]&0x0f) << 16) | (uint32(data[4]) << 8) | uint32(data[5])

	d.humidity = hraw
	d.temp = traw
	if out != nil {
		out.RawHumidity = hraw
		out.RawTemp = traw
	}
	return nil
}

// Read runs a full cycle: Trigger, then poll Collect until it succeeds or
// CollectTimeout elapses.
func (d *Device) Read() error {
	if err := d.Trigger(); err != nil {
		return err
	}
	deadline := time.Now().Add(d.cfg.CollectTimeout)
	for {
		err := d.Collect(nil)
		switch err {
		case nil:
			return nil
		case ErrNotReady:
			if time.Now().After(deadline) {
				return ErrTimeout
			}
			time.Sleep(d.cfg.PollInterval)
		default:
			return err
		}
	}
}

// Sample holds one raw reading.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// DeciRelHumidity returns tenths of %RH.
func (s Sample) DeciRelHumidity() int32 {
	return (int32(s.RawHumidity) * 1000) / 0x100000
}

// DeciCelsius returns tenths of a degree C.
func (s Sample) DeciCelsius() int32 {
	return ((int32(s.RawTemp) * 2000) / 0x100000) - 500
}

// Cached accessors for the last successful Collect.

func (d *Device) RawHumidity() uint32 { return d.humidity }
func (d *Device) RawTemp() uint32     { return d.temp }

func (d *Device) DeciRelHumidity() int32 {
	return Sample{RawHumidity: d.humidity}.DeciRelHumidity()
}

func (d *Device) DeciCelsius() int32 {
	return Sample{RawTemp: d.temp}.DeciCelsius()
}
