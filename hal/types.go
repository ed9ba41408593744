// Package hal is a platform-independent abstraction over digital I/O pins and
// I2C buses on the Raspberry Pi family and the RP2 (Pico) microcontrollers.
// Callers address pins and buses by logical identifier; which driver backend
// serves them is negotiated once at open time and never leaks through the
// API.
package hal

import (
	"time"

	"gpiohal-go/hal/internal/halio"
)

// Direction refers to the usage of a pin: is it being read or driven?
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Level is the binary value on a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Pull selects the pin's resistor configuration.
type Pull uint8

const (
	// PullNone leaves the line floating.
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "pull-up"
	case PullDown:
		return "pull-down"
	default:
		return "float"
	}
}

// Edge selects which level transitions trigger a registered callback.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string { return halioEdge(e).String() }

func halioEdge(e Edge) halio.Edge {
	switch e {
	case EdgeRising:
		return halio.EdgeRising
	case EdgeFalling:
		return halio.EdgeFalling
	case EdgeBoth:
		return halio.EdgeBoth
	default:
		return halio.EdgeNone
	}
}

func halioPull(p Pull) halio.Pull {
	switch p {
	case PullUp:
		return halio.PullUp
	case PullDown:
		return halio.PullDown
	default:
		return halio.PullNone
	}
}

// EdgeEvent is one detected level transition, delivered to a pin's registered
// handler. Events for the same pin arrive in detection order.
type EdgeEvent struct {
	Pin   int
	Edge  Edge
	Level Level
	Time  time.Time
}

// Handler receives edge events. It runs on the dispatch goroutine and should
// return promptly; a slow handler delays delivery for every watched pin.
type Handler func(EdgeEvent)

// BusID names an I2C bus by hardware controller index or bit-banged pin pair.
type BusID = halio.BusID

// HWBus addresses hardware I2C controller i (e.g. /dev/i2c-1, or i2c0 on the
// Pico).
func HWBus(i int) BusID { return halio.HWBus(i) }

// SoftBus addresses a bit-banged bus on the given SDA/SCL pin pair.
func SoftBus(sda, scl int) BusID { return halio.SoftBus(sda, scl) }

// Descriptor describes the backend selected for a pin or bus, for
// diagnostics.
type Descriptor = halio.Descriptor
