package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gpiohal-go/errcode"
	"gpiohal-go/hal/internal/halio"
)

// Watch arms edge detection on an input pin and registers fn for matching
// transitions. Edges closer than debounce to the previously accepted edge are
// suppressed. Where the backend has no native interrupt delivery the engine
// substitutes a bounded-interval polling task; the contract to the caller is
// identical, only detection latency differs.
func (p *Pin) Watch(edge Edge, debounce time.Duration, fn Handler) error {
	const op = "Watch"
	p.mu.Lock()
	closed, dir := p.closed, p.dir
	p.mu.Unlock()
	if closed {
		return errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" is closed")
	}
	if dir != Input {
		return errcode.New(errcode.PinNotInput, op, "pin "+itoa(p.number)+" is an output")
	}
	if edge == EdgeNone {
		return errcode.New(errcode.UnsupportedEdgeMode, op, "an edge selection is required")
	}
	if fn == nil {
		return errcode.New(errcode.Error, op, "nil handler")
	}
	return p.h.disp.watch(p, edge, debounce, fn)
}

// Unwatch disarms edge detection. When it returns, no new handler invocation
// will begin; an in-flight invocation may still complete. Unwatching an
// unwatched pin is a no-op.
func (p *Pin) Unwatch() {
	p.h.disp.unwatch(p)
}

// rawEvent is what the notification side (ISR handler or polling task) hands
// to the dispatch goroutine. Capturing level and time at detection keeps
// ordering honest even when dispatch lags.
type rawEvent struct {
	pin   int
	level bool
	ts    time.Time
}

type watch struct {
	pin      *Pin
	edge     Edge
	debounce time.Duration
	fn       Handler

	lastLevel bool
	lastFired time.Time
	cancel    func()

	// runMu serialises handler invocation against deregistration. active
	// is guarded by it.
	runMu  sync.Mutex
	active bool
}

// dispatcher fans hardware notifications from every armed pin into one
// consumer goroutine. One consumer means events for the same pin are
// delivered strictly in detection order.
type dispatcher struct {
	evQ     chan rawEvent
	stopped chan struct{}
	poll    time.Duration

	mu      sync.RWMutex
	watches map[int]*watch

	drops uint32 // notification-side drop counter
}

func newDispatcher(buf int, poll time.Duration) *dispatcher {
	if buf <= 0 {
		buf = 64
	}
	return &dispatcher{
		evQ:     make(chan rawEvent, buf),
		stopped: make(chan struct{}),
		poll:    poll,
		watches: map[int]*watch{},
	}
}

func (d *dispatcher) start(ctx context.Context) {
	go func() {
		defer close(d.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-d.evQ:
				d.handle(ev)
			}
		}
	}()
}

func (d *dispatcher) watch(p *Pin, edge Edge, debounce time.Duration, fn Handler) error {
	const op = "Watch"

	d.mu.Lock()
	if d.watches[p.number] != nil {
		d.mu.Unlock()
		return errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" already has a callback")
	}
	// Reserve the slot before arming so a concurrent Watch cannot double-arm.
	wh := &watch{pin: p, edge: edge, debounce: debounce, fn: fn, active: true}
	d.watches[p.number] = wh
	d.mu.Unlock()

	// Initial logical snapshot, so the first detected transition classifies
	// against the real starting level.
	if v, err := p.bk.Get(); err == nil {
		wh.lastLevel = v
	}

	var cancel func()
	if irq, ok := p.bk.(halio.IRQPin); ok {
		// Notification-side handler: capture and hand off, never block.
		err := irq.SetIRQ(halioEdge(edge), func(level bool, ts time.Time) {
			select {
			case d.evQ <- rawEvent{pin: p.number, level: level, ts: ts}:
			default:
				atomic.AddUint32(&d.drops, 1)
			}
		})
		if err != nil {
			d.removeIf(p.number, wh)
			if errcode.Of(err) == errcode.UnsupportedEdgeMode {
				return errcode.New(errcode.UnsupportedEdgeMode, op, p.desc.Name+" cannot detect "+edge.String()+" edges")
			}
			return errcode.Wrap(p.desc.Name, op, err)
		}
		cancel = func() { _ = irq.ClearIRQ() }
	} else {
		// No native interrupts: emulate with a bounded-interval polling task.
		stop := make(chan struct{})
		done := make(chan struct{})
		go d.pollLoop(p, wh.lastLevel, stop, done)
		cancel = func() {
			close(stop)
			<-done
		}
	}

	// Publish the teardown hook under the same lock unwatch reads it. If an
	// unwatch ran while we were arming, the slot is gone and the notification
	// source must be torn down here, on the loser's side of the race.
	d.mu.Lock()
	if d.watches[p.number] != wh {
		d.mu.Unlock()
		cancel()
		return errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" closed during registration")
	}
	wh.cancel = cancel
	d.mu.Unlock()

	// A close can slip in between the caller's open check and the arming
	// above; deregistration must not outlive the pin handle, so re-check and
	// roll back now that the slot carries its teardown hook.
	p.mu.Lock()
	pinClosed := p.closed
	p.mu.Unlock()
	if pinClosed {
		d.unwatch(p)
		return errcode.New(errcode.Error, op, "pin "+itoa(p.number)+" is closed")
	}
	return nil
}

// pollLoop samples the pin at the configured interval and reports level
// changes into the shared event queue. The ticker yields between samples, so
// emulation never busy-spins the process.
func (d *dispatcher) pollLoop(p *Pin, last bool, stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(d.poll)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			v, err := p.bk.Get()
			if err != nil || v == last {
				continue
			}
			last = v
			select {
			case d.evQ <- rawEvent{pin: p.number, level: v, ts: time.Now()}:
			case <-stop:
				return
			}
		}
	}
}

func (d *dispatcher) handle(ev rawEvent) {
	d.mu.RLock()
	wh := d.watches[ev.pin]
	d.mu.RUnlock()
	if wh == nil {
		return
	}

	// Classify the transition. Single-edge watches trust their configured
	// direction: an interrupt source only fires on that edge, and two
	// same-direction events in a row just mean the opposite edge went
	// unobserved.
	var e Edge
	switch wh.edge {
	case EdgeBoth:
		switch {
		case ev.level && !wh.lastLevel:
			e = EdgeRising
		case !ev.level && wh.lastLevel:
			e = EdgeFalling
		default:
			return
		}
	case EdgeRising:
		if !ev.level {
			wh.lastLevel = false
			return
		}
		e = EdgeRising
	case EdgeFalling:
		if ev.level {
			wh.lastLevel = true
			return
		}
		e = EdgeFalling
	default:
		return
	}
	wh.lastLevel = ev.level

	// Debounce against the previously accepted edge.
	if !wh.lastFired.IsZero() && ev.ts.Sub(wh.lastFired) < wh.debounce {
		return
	}
	wh.lastFired = ev.ts

	wh.runMu.Lock()
	if wh.active {
		wh.fn(EdgeEvent{Pin: ev.pin, Edge: e, Level: Level(ev.level), Time: ev.ts})
	}
	wh.runMu.Unlock()
}

// removeIf clears the slot for pin only if it still holds wh, so a rollback
// can never evict a later owner's registration.
func (d *dispatcher) removeIf(pin int, wh *watch) {
	d.mu.Lock()
	if d.watches[pin] == wh {
		delete(d.watches, pin)
	}
	d.mu.Unlock()
}

func (d *dispatcher) unwatch(p *Pin) {
	d.mu.Lock()
	wh := d.watches[p.number]
	var cancel func()
	if wh != nil {
		delete(d.watches, p.number)
		cancel = wh.cancel
	}
	d.mu.Unlock()
	if wh == nil {
		return
	}
	if cancel != nil {
		// Stops the notification source before the pin handle can be torn
		// down; for pollers this waits for the sampling task to exit.
		cancel()
	}
	// cancel == nil means a watch() is still arming this slot; removing the
	// entry makes that watch() tear its own source down when it finds the
	// slot gone. Either way the handler cannot run again: dispatch requires
	// the map entry, and active is cleared for any in-flight event.
	wh.runMu.Lock()
	wh.active = false
	wh.runMu.Unlock()
}

// Drops reports how many notifications were discarded because the dispatch
// queue was full.
func (h *HAL) Drops() uint32 { return atomic.LoadUint32(&h.disp.drops) }
