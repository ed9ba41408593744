package hal

import (
	"sync"
	"time"

	"gpiohal-go/errcode"
	"gpiohal-go/x/timex"
)

// Pulser toggles an output pin at a fixed frequency and duty cycle in
// software. It demonstrates the pin API and backs the pinblink tool; timing
// jitter is whatever the scheduler gives us, so it is not a hardware PWM
// replacement.
type Pulser struct {
	pin    *Pin
	onFor  time.Duration
	offFor time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewPulser builds a pulser on an output pin. duty is the high fraction of
// each period, exclusive of 0 and 1.
func NewPulser(pin *Pin, freqHz uint32, duty float64) (*Pulser, error) {
	const op = "NewPulser"
	if pin.Direction() != Output {
		return nil, errcode.New(errcode.WrongDirection, op, "pin "+itoa(pin.Number())+" is an input")
	}
	if duty <= 0 || duty >= 1 {
		return nil, errcode.New(errcode.Error, op, "duty cycle must be between 0 and 1 exclusive")
	}
	if freqHz == 0 {
		return nil, errcode.New(errcode.Error, op, "frequency must be positive")
	}
	period := time.Duration(timex.PeriodFromHz(freqHz))
	on := time.Duration(float64(period) * duty)
	return &Pulser{pin: pin, onFor: on, offFor: period - on}, nil
}

// Start begins pulsing. It fails if the pulser is already running.
func (p *Pulser) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errcode.New(errcode.Error, "Start", "pulser already running")
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)
	return nil
}

func (p *Pulser) run(stop, done chan struct{}) {
	defer close(done)
	defer func() { _ = p.pin.SetLevel(Low) }()
	for {
		if p.pin.SetLevel(High) != nil {
			return
		}
		select {
		case <-stop:
			return
		case <-time.After(p.onFor):
		}
		if p.pin.SetLevel(Low) != nil {
			return
		}
		select {
		case <-stop:
			return
		case <-time.After(p.offFor):
		}
	}
}

// Stop halts pulsing and leaves the pin low. Stopping a stopped pulser is a
// no-op.
func (p *Pulser) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done
}
