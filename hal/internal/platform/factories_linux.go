//go:build linux && !rp2040 && !rp2350

package platform

import (
	"os"
	"strings"
	"sync"

	"gpiohal-go/hal/internal/halio"
)

// Candidate order on Linux SBCs: character-device GPIO first (real edge
// events), register mapping second; periph.io hardware I2C first, raw devfs
// second. Bit-banged I2C has no Linux driver here, so pin-pair bus ids report
// NoBackendAvailable on this platform.

func gpioBackends() []halio.GPIOBackend {
	return []halio.GPIOBackend{newGpiocdev(), newRpio()}
}

func i2cBackends() []halio.I2CBackend {
	return []halio.I2CBackend{newPeriphI2C(), newDevfsI2C()}
}

var (
	platOnce sync.Once
	platName string
)

// platformName reads the devicetree model string, e.g.
// "Raspberry Pi 5 Model B Rev 1.0".
func platformName() string {
	platOnce.Do(func() {
		b, err := os.ReadFile("/sys/firmware/devicetree/base/model")
		if err != nil {
			platName = "linux"
			return
		}
		platName = strings.TrimRight(string(b), "\x00\n ")
	})
	return platName
}
