package hal

import (
	"errors"
	"testing"
	"time"

	"gpiohal-go/errcode"
)

func collectEvents(t *testing.T, ch <-chan EdgeEvent, n int) []EdgeEvent {
	t.Helper()
	out := make([]EdgeEvent, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func expectQuiet(t *testing.T, ch <-chan EdgeEvent, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(d):
	}
}

func TestWatchDeliversEdgesInOrder(t *testing.T) {
	r := newTestRig(t, true)

	p, err := r.h.OpenPin(21, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeBoth, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}

	st := r.gpio.PinState(21)
	st.Drive(true)
	st.Drive(false)
	st.Drive(true)
	st.Drive(false)

	got := collectEvents(t, events, 4)
	want := []Edge{EdgeRising, EdgeFalling, EdgeRising, EdgeFalling}
	for i, ev := range got {
		if ev.Edge != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, ev.Edge, want[i])
		}
		if ev.Pin != 21 {
			t.Fatalf("event %d: pin %d", i, ev.Pin)
		}
	}
	if got[0].Level != High || got[1].Level != Low {
		t.Fatalf("levels do not match edges: %+v", got[:2])
	}
}

func TestWatchSingleEdgeFilters(t *testing.T) {
	r := newTestRig(t, true)

	p, err := r.h.OpenPin(20, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeFalling, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}

	st := r.gpio.PinState(20)
	st.Drive(true)
	st.Drive(false)
	st.Drive(true)
	st.Drive(false)

	got := collectEvents(t, events, 2)
	for i, ev := range got {
		if ev.Edge != EdgeFalling {
			t.Fatalf("event %d: got %v, want falling", i, ev.Edge)
		}
	}
	expectQuiet(t, events, 50*time.Millisecond)
}

func TestWatchDebounce(t *testing.T) {
	r := newTestRig(t, true)

	p, err := r.h.OpenPin(19, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeRising, 80*time.Millisecond, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}

	st := r.gpio.PinState(19)
	// Contact bounce: the rapid retriggers inside the window are swallowed.
	st.Drive(true)
	st.Drive(false)
	st.Drive(true)
	st.Drive(false)

	got := collectEvents(t, events, 1)
	if got[0].Edge != EdgeRising {
		t.Fatalf("got %v, want rising", got[0].Edge)
	}
	expectQuiet(t, events, 40*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	st.Drive(true)
	collectEvents(t, events, 1)
}

func TestWatchRejectsOutputsAndBadEdges(t *testing.T) {
	r := newTestRig(t, true)

	out, err := r.h.OpenPin(18, Output)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Watch(EdgeBoth, 0, func(EdgeEvent) {}); !errors.Is(err, errcode.PinNotInput) {
		t.Fatalf("watch on output: got %v", err)
	}

	in, err := r.h.OpenPin(16, Input)
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Watch(EdgeNone, 0, func(EdgeEvent) {}); !errors.Is(err, errcode.UnsupportedEdgeMode) {
		t.Fatalf("watch with no edge: got %v", err)
	}
}

func TestWatchUnsupportedEdgeMode(t *testing.T) {
	r := newTestRig(t, true)
	r.gpio.DenyEdge = halioEdge(EdgeBoth)

	p, err := r.h.OpenPin(15, Input)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Watch(EdgeBoth, 0, func(EdgeEvent) {}); !errors.Is(err, errcode.UnsupportedEdgeMode) {
		t.Fatalf("got %v, want unsupported_edge_mode", err)
	}

	// The failed registration is rolled back; a supported edge still works.
	events := make(chan EdgeEvent, 1)
	if err := p.Watch(EdgeRising, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}
	r.gpio.PinState(15).Drive(true)
	collectEvents(t, events, 1)
}

func TestWatchPollingFallback(t *testing.T) {
	r := newTestRig(t, false) // no native edge notification

	p, err := r.h.OpenPin(14, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeRising, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}

	st := r.gpio.PinState(14)
	st.Drive(true)
	got := collectEvents(t, events, 1)
	if got[0].Edge != EdgeRising {
		t.Fatalf("got %v, want rising", got[0].Edge)
	}

	st.Drive(false)
	time.Sleep(10 * time.Millisecond) // let the poller observe the low level
	st.Drive(true)
	collectEvents(t, events, 1)
}

func TestUnwatchStopsDelivery(t *testing.T) {
	r := newTestRig(t, true)

	p, err := r.h.OpenPin(12, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeBoth, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}
	st := r.gpio.PinState(12)
	st.Drive(true)
	collectEvents(t, events, 1)

	p.Unwatch()
	st.Drive(false)
	st.Drive(true)
	expectQuiet(t, events, 50*time.Millisecond)

	// Watching again after deregistration resumes delivery.
	if err := p.Watch(EdgeFalling, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}
	st.Drive(false)
	collectEvents(t, events, 1)
}

func TestWatchTwiceErrors(t *testing.T) {
	r := newTestRig(t, true)

	p, err := r.h.OpenPin(10, Input)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Watch(EdgeBoth, 0, func(EdgeEvent) {}); err != nil {
		t.Fatal(err)
	}
	if err := p.Watch(EdgeBoth, 0, func(EdgeEvent) {}); err == nil {
		t.Fatal("second watch on the same pin must fail")
	}
}

func TestWatchRacingCloseLeavesNoWatcher(t *testing.T) {
	r := newTestRig(t, true)

	// Every interleaving of a concurrent register and close must end with
	// the notification source torn down and the pin number free: the next
	// owner of the pin can always arm its own callback.
	for i := 0; i < 50; i++ {
		p, err := r.h.OpenPin(9, Input)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		events := make(chan EdgeEvent, 4)
		registered := make(chan struct{})
		go func() {
			defer close(registered)
			_ = p.Watch(EdgeBoth, 0, func(ev EdgeEvent) { events <- ev })
		}()
		if err := p.Close(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		<-registered

		// The dead handle must not deliver, whoever won the race.
		st := r.gpio.PinState(9)
		st.Drive(true)
		st.Drive(false)
		time.Sleep(time.Millisecond)
		select {
		case ev := <-events:
			t.Fatalf("iteration %d: event after close: %+v", i, ev)
		default:
		}

		p2, err := r.h.OpenPin(9, Input)
		if err != nil {
			t.Fatalf("iteration %d: pin not released: %v", i, err)
		}
		if err := p2.Watch(EdgeRising, 0, func(EdgeEvent) {}); err != nil {
			t.Fatalf("iteration %d: stale registration blocks the next owner: %v", i, err)
		}
		p2.Unwatch()
		if err := p2.Close(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}

func TestCloseWhileWatched(t *testing.T) {
	r := newTestRig(t, false) // polling path holds a goroutine per watch

	p, err := r.h.OpenPin(8, Input)
	if err != nil {
		t.Fatal(err)
	}
	events := make(chan EdgeEvent, 16)
	if err := p.Watch(EdgeBoth, 0, func(ev EdgeEvent) { events <- ev }); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	// Close tears the watch down before releasing the line, so nothing fires.
	r.gpio.PinState(8).Drive(true)
	expectQuiet(t, events, 50*time.Millisecond)
}
