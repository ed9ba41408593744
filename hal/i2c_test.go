package hal

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/sim"
)

func TestOpenBusSharesHandle(t *testing.T) {
	r := newTestRig(t, true)

	b1, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)
	b2, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)
	assert.Same(t, b1, b2, "opening the same bus id must share one handle")

	other, err := r.h.OpenBus(HWBus(0))
	require.NoError(t, err)
	assert.NotSame(t, b1, other)
}

func TestBusRouting(t *testing.T) {
	r := newTestRig(t, true)

	hw, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)
	assert.Equal(t, "sim-i2c", hw.Backend().Name)
	assert.True(t, hw.Backend().SupportsHardwareI2C)

	sw, err := r.h.OpenBus(SoftBus(2, 3))
	require.NoError(t, err)
	assert.Equal(t, "sim-i2csoft", sw.Backend().Name)
	assert.False(t, sw.Backend().SupportsHardwareI2C)

	_, err = r.h.OpenBus(BusID{Index: -1, SDA: 5, SCL: 5})
	assert.ErrorIs(t, err, errcode.InvalidBusId)
}

func TestRegisterReadWrite(t *testing.T) {
	r := newTestRig(t, true)
	r.hw.AddDevice(0x40, &sim.Device{})

	b, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)

	require.NoError(t, b.WriteReg(0x40, 0x0e, 0x12, 0x34))
	got, err := b.ReadReg(0x40, 0x0e, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, got)

	// Raw form: a pointer write followed by a sequential read.
	require.NoError(t, b.WriteBytes(0x40, []byte{0x0e}))
	got, err = b.ReadBytes(0x40, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, got)
}

func TestTransactionOpsStayCoupled(t *testing.T) {
	r := newTestRig(t, true)
	r.hw.AddDevice(0x23, &sim.Device{})

	b, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)

	res, err := b.Transaction(0x23, []TxOp{
		TxWrite(0x07, 0xaa),
		TxWrite(0x07),
		TxRead(1),
	})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Nil(t, res[0])
	assert.Nil(t, res[1])
	assert.Equal(t, []byte{0xaa}, res[2])
}

// Two goroutines hammer the same bus; the per-bus lock must keep each
// transaction's bytes contiguous on the wire. The simulated bus stalls between
// bytes so a missing lock would show up as interleaving.
func TestConcurrentTransactionsSerialize(t *testing.T) {
	r := newTestRig(t, true)
	r.hw.AddDevice(0x11, &sim.Device{})
	r.hw.ByteDelay = 200 * time.Microsecond

	b, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)

	patA := []byte{0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5}
	patB := []byte{0xb0, 0xb1, 0xb2, 0xb3, 0xb4, 0xb5}

	var wg sync.WaitGroup
	for _, pat := range [][]byte{patA, patB} {
		wg.Add(1)
		go func(pat []byte) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := b.Transaction(0x11, []TxOp{
					TxWrite(pat[:3]...),
					TxWrite(pat[3:]...),
				})
				assert.NoError(t, err)
			}
		}(pat)
	}
	wg.Wait()

	trace := r.hw.Bus(HWBus(1)).Trace()
	countA := bytes.Count(trace, patA)
	countB := bytes.Count(trace, patB)
	assert.Equal(t, 5, countA, "transaction bytes interleaved on the wire")
	assert.Equal(t, 5, countB, "transaction bytes interleaved on the wire")
}

func TestNonBlockingBusBusy(t *testing.T) {
	r := newTestRig(t, true)
	r.hw.AddDevice(0x11, &sim.Device{})
	r.hw.ByteDelay = 2 * time.Millisecond

	b, err := r.h.OpenBus(HWBus(1), NonBlocking())
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_ = b.WriteBytes(0x11, bytes.Repeat([]byte{0x55}, 50)) // ~100ms on the wire
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err = b.ReadBytes(0x11, 1)
	assert.ErrorIs(t, err, errcode.BusBusy)
	assert.Equal(t, errcode.Warning, errcode.SeverityOf(err))

	<-done
	_, err = b.ReadBytes(0x11, 1)
	assert.NoError(t, err, "the bus is usable again once the holder finishes")
}

func TestCloseBusInUse(t *testing.T) {
	r := newTestRig(t, true)
	r.hw.AddDevice(0x11, &sim.Device{})
	r.hw.ByteDelay = 2 * time.Millisecond

	b, err := r.h.OpenBus(HWBus(1))
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_ = b.WriteBytes(0x11, bytes.Repeat([]byte{0x55}, 50))
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, b.Close(), errcode.BusInUse)

	<-done
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is a no-op on a closed bus")

	_, err = b.ReadBytes(0x11, 1)
	assert.Error(t, err, "a closed bus must not transact")
}

func TestBusSpeedClamped(t *testing.T) {
	r := newTestRig(t, true)

	b, err := r.h.OpenBus(HWBus(1), WithBusSpeed(4_000_000))
	require.NoError(t, err)

	bus := r.hw.Bus(HWBus(1))
	require.NotNil(t, bus)
	assert.Equal(t, b.Backend().MaxI2CSpeedHz, bus.FreqHz(),
		"requested speed above the backend ceiling is clamped")
}
