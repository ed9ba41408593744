// cmd/i2crecover/main.go
//
// Frees an I2C bus whose target is holding SDA low after an interrupted
// transfer. The classic recovery sequence: clock SCL nine times so the stuck
// target finishes whatever byte it thinks it is sending, then generate a STOP
// condition. Run it when i2cdetect hangs or every transfer reports arbitration
// loss.
//
//	i2crecover            # recover bus 1 on the default pins (SDA 2, SCL 3)
//	i2crecover -sda 10 -scl 11 -bus 0
package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"gpiohal-go/hal"
)

const halfPeriod = 5 * time.Microsecond // ~100 kHz while bit-banging

func main() {
	var (
		sda = flag.Int("sda", 2, "GPIO number of the SDA line")
		scl = flag.Int("scl", 3, "GPIO number of the SCL line")
		bus = flag.Int("bus", 1, "hardware bus index to verify afterwards")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	h := hal.New()
	defer h.Close()
	log.Info().Str("platform", h.Platform()).Msg("hal up")

	if err := recover9(log, h, *sda, *scl); err != nil {
		log.Error().Err(err).Msg("recovery sequence failed")
		os.Exit(1)
	}

	// The kernel driver should be able to claim the bus again now.
	bh, err := h.OpenBus(hal.HWBus(*bus))
	if err != nil {
		log.Error().Err(err).Int("bus", *bus).Msg("bus still unusable")
		os.Exit(1)
	}
	if err := bh.Close(); err != nil {
		log.Error().Err(err).Int("bus", *bus).Msg("could not release bus handle")
		os.Exit(1)
	}
	log.Info().Int("bus", *bus).Msg("bus recovered")
}

// recover9 clocks the stuck target off the bus. The pins are claimed with
// Replace so a wedged process holding them does not block recovery.
func recover9(log zerolog.Logger, h *hal.HAL, sdaNum, sclNum int) error {
	sclPin, err := h.OpenPin(sclNum, hal.Output, hal.WithInitialLevel(hal.High), hal.Replace())
	if err != nil {
		return err
	}
	defer sclPin.Close()

	sdaPin, err := h.OpenPin(sdaNum, hal.Input, hal.WithPull(hal.PullUp), hal.Replace())
	if err != nil {
		return err
	}

	stuck, err := sdaPin.Level()
	if err != nil {
		return err
	}
	if stuck == hal.High {
		log.Info().Msg("SDA already released, clocking anyway")
	} else {
		log.Warn().Msg("SDA held low, target mid-byte")
	}

	for i := 0; i < 9; i++ {
		if err := sclPin.SetLevel(hal.Low); err != nil {
			return err
		}
		time.Sleep(halfPeriod)
		if err := sclPin.SetLevel(hal.High); err != nil {
			return err
		}
		time.Sleep(halfPeriod)
		if lvl, err := sdaPin.Level(); err == nil && lvl == hal.High {
			log.Info().Int("clocks", i+1).Msg("SDA released")
			break
		}
	}

	// STOP condition: SDA rises while SCL is high.
	if err := sdaPin.Close(); err != nil {
		return err
	}
	sdaOut, err := h.OpenPin(sdaNum, hal.Output, hal.WithInitialLevel(hal.Low), hal.Replace())
	if err != nil {
		return err
	}
	defer sdaOut.Close()
	time.Sleep(halfPeriod)
	if err := sdaOut.SetLevel(hal.High); err != nil {
		return err
	}
	time.Sleep(halfPeriod)
	log.Info().Msg("stop condition sent")
	return nil
}
