//go:build !linux && !rp2040 && !rp2350

package platform

import (
	"gpiohal-go/hal/internal/halio"
	"gpiohal-go/hal/internal/sim"
)

// Off-target builds get simulated backends so the library and its callers can
// run on a development host. Tests inject their own sims through NewProbeWith.

func gpioBackends() []halio.GPIOBackend {
	return []halio.GPIOBackend{sim.NewGPIO("sim-gpio", 10, true)}
}

func i2cBackends() []halio.I2CBackend {
	return []halio.I2CBackend{sim.NewI2C("sim-i2c", 20, true), sim.NewI2C("sim-i2csoft", 10, false)}
}

func platformName() string { return "host (simulated)" }
