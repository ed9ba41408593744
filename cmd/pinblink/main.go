// cmd/pinblink/main.go
//
// Blinks a GPIO pin from the command line. Useful as a smoke test for a
// freshly wired board: if the LED blinks, the platform backend, pin
// ownership and output driving all work.
//
//	pinblink -pin 17 -hz 2 -duty 0.5 -for 10s
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gpiohal-go/hal"
)

func main() {
	var (
		pinNum  = flag.Int("pin", 17, "GPIO pin number to blink")
		freq    = flag.Uint("hz", 2, "blink frequency in Hz")
		duty    = flag.Float64("duty", 0.5, "high fraction of each period, 0 < duty < 1")
		runFor  = flag.Duration("for", 0, "how long to blink; 0 blinks until interrupted")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	if !*verbose {
		log = log.Level(zerolog.InfoLevel)
	}

	h := hal.New()
	defer h.Close()
	log.Info().Str("platform", h.Platform()).Msg("hal up")

	pin, err := h.OpenPin(*pinNum, hal.Output)
	if err != nil {
		log.Fatal().Err(err).Int("pin", *pinNum).Msg("open failed")
	}
	defer pin.Close()
	log.Info().
		Int("pin", pin.Number()).
		Str("backend", pin.Backend().Name).
		Uint("hz", *freq).
		Float64("duty", *duty).
		Msg("blinking")

	pulser, err := hal.NewPulser(pin, uint32(*freq), *duty)
	if err != nil {
		log.Fatal().Err(err).Msg("bad pulse parameters")
	}
	if err := pulser.Start(); err != nil {
		log.Fatal().Err(err).Msg("start failed")
	}
	defer pulser.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if *runFor > 0 {
		select {
		case <-time.After(*runFor):
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("interrupted")
		}
	} else {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("interrupted")
	}
	log.Info().Msg("done")
}
