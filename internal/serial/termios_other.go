//go:build !linux

package serial

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pmcloud/serclient/internal/config"
)

// configure is unimplemented outside Linux: this agent targets Linux guests,
// where the hypervisor's virtual serial device is exposed as a tty. A
// deployment on another guest OS must front this package with its own
// platform-specific port configuration.
func configure(_ *os.File, _ config.Serial) error {
	return fmt.Errorf("serial: device configuration is not implemented on %s", runtime.GOOS)
}
