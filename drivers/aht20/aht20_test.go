package aht20

import (
	"errors"
	"testing"
	"time"

	"gpiohal-go/hal"
)

// fakeBus scripts an AHT20 at the protocol level: it answers the status
// command, counts trigger commands and serves measurement frames, reporting
// busy for the first busyReads collection attempts after each trigger.
type fakeBus struct {
	calibrated bool
	busyReads  int

	triggers  int
	reads     int
	lastWrite []byte
	failWith  error

	frame [7]byte
}

func newFakeBus(calibrated bool) *fakeBus {
	f := &fakeBus{calibrated: calibrated}
	// Raw humidity 0x80000 (50.0 %RH), raw temp 0x80000 (50.0 C).
	f.frame = [7]byte{statusCalibrated, 0x80, 0x00, 0x08, 0x00, 0x00, 0x00}
	return f
}

func (f *fakeBus) status() byte {
	st := byte(0)
	if f.calibrated {
		st |= statusCalibrated
	}
	if f.reads < f.busyReads {
		st |= statusBusy
	}
	return st
}

func (f *fakeBus) WriteBytes(addr uint16, data []byte) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.lastWrite = append([]byte(nil), data...)
	switch data[0] {
	case cmdTrigger:
		f.triggers++
		f.reads = 0
	case cmdInitialize:
		f.calibrated = true
	}
	return nil
}

func (f *fakeBus) ReadBytes(addr uint16, count int) ([]byte, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	out := make([]byte, count)
	copy(out, f.frame[:])
	out[0] = f.status()
	f.reads++
	return out, nil
}

func (f *fakeBus) Transaction(addr uint16, ops []hal.TxOp) ([][]byte, error) {
	// Only the status exchange uses a composite transaction.
	if f.failWith != nil {
		return nil, f.failWith
	}
	return [][]byte{nil, {f.status()}}, nil
}

func TestNewInitialisesUncalibratedPart(t *testing.T) {
	f := newFakeBus(false)
	if _, err := New(f); err != nil {
		t.Fatal(err)
	}
	if !f.calibrated {
		t.Fatal("initialise command not sent")
	}
	if f.lastWrite[0] != cmdInitialize {
		t.Fatalf("last write %#x, want initialise", f.lastWrite[0])
	}
}

func TestNewSkipsInitWhenCalibrated(t *testing.T) {
	f := newFakeBus(true)
	if _, err := New(f); err != nil {
		t.Fatal(err)
	}
	if f.lastWrite != nil {
		t.Fatalf("unexpected write %#x to a calibrated part", f.lastWrite)
	}
}

func TestReadPollsUntilReady(t *testing.T) {
	f := newFakeBus(true)
	f.busyReads = 2
	d, err := New(f, Config{PollInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Read(); err != nil {
		t.Fatal(err)
	}
	if f.triggers != 1 {
		t.Fatalf("triggers = %d, want 1", f.triggers)
	}
	if f.reads != 3 {
		t.Fatalf("reads = %d, want 2 busy + 1 ready", f.reads)
	}
	if got := d.DeciRelHumidity(); got != 500 {
		t.Fatalf("DeciRelHumidity = %d, want 500", got)
	}
	if got := d.DeciCelsius(); got != 500 {
		t.Fatalf("DeciCelsius = %d, want 500", got)
	}
}

func TestReadTimesOut(t *testing.T) {
	f := newFakeBus(true)
	f.busyReads = 1 << 30
	d, err := New(f, Config{PollInterval: time.Millisecond, CollectTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Read(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want timeout", err)
	}
}

func TestBusErrorsPassThrough(t *testing.T) {
	f := newFakeBus(true)
	d, err := New(f)
	if err != nil {
		t.Fatal(err)
	}
	cause := errors.New("remote I/O error")
	f.failWith = cause
	if err := d.Read(); !errors.Is(err, cause) {
		t.Fatalf("got %v, want the bus error", err)
	}
}
