// Package halio defines the contract between the public abstraction layer and
// the platform backends that actually touch hardware. Backends implement the
// small interfaces below; everything else (ownership, dispatch, arbitration)
// lives above them and never sees driver-specific types.
package halio

import (
	"time"

	"gpiohal-go/x/conv"
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selection for change notification.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Wants reports whether a transition to the given level is selected by e.
func (e Edge) Wants(rising bool) bool {
	switch e {
	case EdgeBoth:
		return true
	case EdgeRising:
		return rising
	case EdgeFalling:
		return !rising
	default:
		return false
	}
}

// Pin is one opened GPIO line. Implementations are not required to be
// goroutine-safe; the resource manager serialises access per pin.
type Pin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool) error
	Get() (bool, error)
	Number() int
	Close() error
}

// IRQPin extends Pin with native edge notification. The handler runs on the
// driver's notification goroutine and must not block; level and timestamp are
// captured at detection time.
type IRQPin interface {
	Pin
	SetIRQ(edge Edge, handler func(level bool, ts time.Time)) error
	ClearIRQ() error
}

// I2C is one opened bus handle. Tx matches tinygo.org/x/drivers.I2C so MCU
// bus implementations can be passed through unwrapped.
type I2C interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// BusID names an I2C bus either by hardware controller index or by the SDA/SCL
// pin pair of a bit-banged bus.
type BusID struct {
	Index    int
	SDA, SCL int
}

// HWBus addresses hardware controller index i (e.g. /dev/i2c-1).
func HWBus(i int) BusID { return BusID{Index: i, SDA: -1, SCL: -1} }

// SoftBus addresses a bit-banged bus on an arbitrary pin pair.
func SoftBus(sda, scl int) BusID { return BusID{Index: -1, SDA: sda, SCL: scl} }

func (b BusID) Soft() bool { return b.Index < 0 }

func (b BusID) Valid() bool {
	if b.Soft() {
		return b.SDA >= 0 && b.SCL >= 0 && b.SDA != b.SCL
	}
	return b.Index >= 0
}

func (b BusID) String() string {
	if b.Soft() {
		return "i2c-sw-" + itoa(b.SDA) + "/" + itoa(b.SCL)
	}
	return "i2c-" + itoa(b.Index)
}

// Descriptor advertises what a backend can do; the prober ranks candidates by
// Priority and callers may inspect it for diagnostics.
type Descriptor struct {
	Name     string // backend name, e.g. "gpiocdev"
	Platform string // running platform, e.g. "Raspberry Pi 5 Model B"
	Priority int    // higher ranks first

	SupportsIRQ    bool // native edge notification
	OutputReadback bool // Get on an output pin reflects the wire

	SupportsHardwareI2C bool
	MaxI2CSpeedHz       uint32

	MaxPin int // highest valid GPIO line number
}

// GPIOBackend opens pins. Probe must be cheap, idempotent and side-effect-free
// beyond one-time driver initialisation; its result may be cached for the
// process lifetime.
type GPIOBackend interface {
	Describe() Descriptor
	Probe() error
	Open(number int) (Pin, error)
	Close() error
}

// I2CBackend opens bus handles.
type I2CBackend interface {
	Describe() Descriptor
	Probe() error
	// Addresses reports whether this backend can serve the given bus id
	// (hardware index vs. arbitrary pin pair).
	Addresses(id BusID) bool
	Open(id BusID, freqHz uint32) (I2C, error)
}

// itoa avoids pulling strconv into MCU builds for two digits of formatting.
func itoa(n int) string {
	var buf [20]byte
	return string(conv.Itoa(buf[:], int64(n)))
}
