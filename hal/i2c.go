package hal

import (
	"sync"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
	"gpiohal-go/x/mathx"
)

// defaultBusSpeedHz is I2C standard mode, safe on every backend.
const defaultBusSpeedHz = 100_000

// BusOption configures one OpenBus call. Options only take effect for the
// caller that actually opens the bus; later callers share the existing
// handle.
type BusOption func(*busConfig)

type busConfig struct {
	freqHz   uint32
	nonblock bool
}

// WithBusSpeed requests a bus clock in Hz. Backends that cannot change their
// clock ignore it; the achievable maximum is in the bus Descriptor.
func WithBusSpeed(hz uint32) BusOption {
	return func(c *busConfig) { c.freqHz = hz }
}

// NonBlocking makes transaction primitives fail with BusBusy while another
// transaction holds the bus, instead of waiting for it.
func NonBlocking() BusOption {
	return func(c *busConfig) { c.nonblock = true }
}

// Bus is one open I2C bus, shared by every caller that addresses the same bus
// identifier. At most one transaction is in flight at a time; concurrent
// transactions never interleave at the byte level.
type Bus struct {
	h    *HAL
	id   BusID
	desc Descriptor
	bk   halio.I2C

	nonblock bool

	// txMu is the transaction lock; the whole of every read, write or
	// composite transaction runs under it.
	txMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// OpenBus returns the open bus for id, opening it through the best available
// backend on first use. Whether the bus is a hardware controller or
// bit-banged is visible only through the Descriptor.
func (h *HAL) OpenBus(id BusID, opts ...BusOption) (*Bus, error) {
	const op = "OpenBus"
	cfg := busConfig{freqHz: defaultBusSpeedHz}
	for _, o := range opts {
		o(&cfg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(op); err != nil {
		return nil, err
	}
	if b := h.buses[id.String()]; b != nil {
		return b, nil
	}

	backend, err := h.probe.SelectI2C(id)
	if err != nil {
		return nil, err
	}
	desc := backend.Describe()
	cfg.freqHz = mathx.Clamp(cfg.freqHz, 1, desc.MaxI2CSpeedHz)
	bk, err := backend.Open(id, cfg.freqHz)
	if err != nil {
		return nil, errcode.Wrap(desc.Name, op, err)
	}

	b := &Bus{h: h, id: id, desc: desc, bk: bk, nonblock: cfg.nonblock}
	h.buses[id.String()] = b
	return b, nil
}

// ID returns the bus identifier.
func (b *Bus) ID() BusID { return b.id }

// Backend describes the driver serving this bus.
func (b *Bus) Backend() Descriptor { return b.desc }

// acquire takes the transaction lock per the bus's blocking policy and
// verifies the bus is still open.
func (b *Bus) acquire(op string) error {
	if b.nonblock {
		if !b.txMu.TryLock() {
			return errcode.New(errcode.BusBusy, op, b.id.String()+" has a transaction in flight")
		}
	} else {
		b.txMu.Lock()
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		b.txMu.Unlock()
		return errcode.New(errcode.Error, op, b.id.String()+" is closed")
	}
	return nil
}

// ReadBytes reads count bytes from the device at addr.
func (b *Bus) ReadBytes(addr uint16, count int) ([]byte, error) {
	const op = "ReadBytes"
	if err := b.acquire(op); err != nil {
		return nil, err
	}
	defer b.txMu.Unlock()
	buf := make([]byte, count)
	if err := b.bk.Tx(addr, nil, buf); err != nil {
		return nil, errcode.Wrap(b.desc.Name, op, err)
	}
	return buf, nil
}

// WriteBytes writes data to the device at addr.
func (b *Bus) WriteBytes(addr uint16, data []byte) error {
	const op = "WriteBytes"
	if err := b.acquire(op); err != nil {
		return err
	}
	defer b.txMu.Unlock()
	if err := b.bk.Tx(addr, data, nil); err != nil {
		return errcode.Wrap(b.desc.Name, op, err)
	}
	return nil
}

// TxOp is one step of a composite transaction.
type TxOp struct {
	write []byte
	readN int
}

// TxWrite queues data to be written.
func TxWrite(data ...byte) TxOp { return TxOp{write: data} }

// TxRead queues a read of n bytes.
func TxRead(n int) TxOp { return TxOp{readN: n} }

// Transaction runs the given steps against the device at addr as one unit:
// no other caller's bytes appear on the wire between steps. Results align
// with ops; write steps yield a nil entry.
func (b *Bus) Transaction(addr uint16, ops []TxOp) ([][]byte, error) {
	const op = "Transaction"
	if err := b.acquire(op); err != nil {
		return nil, err
	}
	defer b.txMu.Unlock()

	results := make([][]byte, len(ops))
	for i, step := range ops {
		if step.readN > 0 {
			buf := make([]byte, step.readN)
			if err := b.bk.Tx(addr, nil, buf); err != nil {
				return nil, errcode.Wrap(b.desc.Name, op, err)
			}
			results[i] = buf
			continue
		}
		if err := b.bk.Tx(addr, step.write, nil); err != nil {
			return nil, errcode.Wrap(b.desc.Name, op, err)
		}
	}
	return results, nil
}

// ReadReg reads count bytes starting at register reg of the device at addr.
func (b *Bus) ReadReg(addr uint16, reg byte, count int) ([]byte, error) {
	const op = "ReadReg"
	if err := b.acquire(op); err != nil {
		return nil, err
	}
	defer b.txMu.Unlock()
	buf := make([]byte, count)
	if err := b.bk.Tx(addr, []byte{reg}, buf); err != nil {
		return nil, errcode.Wrap(b.desc.Name, op, err)
	}
	return buf, nil
}

// WriteReg writes data starting at register reg of the device at addr.
func (b *Bus) WriteReg(addr uint16, reg byte, data ...byte) error {
	const op = "WriteReg"
	if err := b.acquire(op); err != nil {
		return err
	}
	defer b.txMu.Unlock()
	if err := b.bk.Tx(addr, append([]byte{reg}, data...), nil); err != nil {
		return errcode.Wrap(b.desc.Name, op, err)
	}
	return nil
}

// Close releases the bus handle. A bus with a transaction in flight fails
// with BusInUse; closing an already-closed bus is a no-op.
func (b *Bus) Close() error {
	const op = "Close"
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if !b.txMu.TryLock() {
		return errcode.New(errcode.BusInUse, op, b.id.String()+" has a transaction in flight")
	}
	defer b.txMu.Unlock()
	return b.closeLocked(op)
}

// closeWait is the process-exit path: it waits for any in-flight transaction
// instead of failing.
func (b *Bus) closeWait() error {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	return b.closeLocked("Close")
}

func (b *Bus) closeLocked(op string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var err error
	if cerr := b.bk.Close(); cerr != nil {
		err = errcode.Wrap(b.desc.Name, op, cerr)
	}
	b.h.mu.Lock()
	if b.h.buses[b.id.String()] == b {
		delete(b.h.buses, b.id.String())
	}
	b.h.mu.Unlock()
	return err
}
