// Package serial opens and configures the host-facing serial device (§6):
// baud rate, byte size, parity, and stop bits, set via termios ioctls on
// Linux, grounded on the goserial driver in the reference pack that performs
// the same TCGETS/TCSETS sequence. The agent's dispatcher only needs a
// link.Device/dispatcher.Writer pair; Port satisfies both.
package serial

import (
	"fmt"
	"os"
	"time"

	"github.com/pmcloud/serclient/internal/config"
)

// deviceReadTimeout bounds each blocking read on the device, per §4.2's "1
// second device-timeout; returning empty on timeout is normal" contract.
const deviceReadTimeout = 1 * time.Second

// Port is an opened, configured serial device. It implements both
// link.Device and dispatcher.Writer.
type Port struct {
	f *os.File
}

// Open opens the device at cfg.Port and configures it per cfg's baud rate,
// byte size, parity, and stop bits.
func Open(cfg config.Serial) (*Port, error) {
	f, err := os.OpenFile(cfg.Port, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Port, err)
	}
	p := &Port{f: f}
	if err := configure(f, cfg); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: configure %s: %w", cfg.Port, err)
	}
	return p, nil
}

// Read satisfies link.Device: it blocks for at most deviceReadTimeout and
// returns (0, nil) on that timeout rather than an error, matching goserial's
// read-timeout convention.
func (p *Port) Read(buf []byte) (int, error) {
	p.f.SetReadDeadline(time.Now().Add(deviceReadTimeout))
	n, err := p.f.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// Write satisfies dispatcher.Writer.
func (p *Port) Write(buf []byte) (int, error) {
	return p.f.Write(buf)
}

// Close releases the underlying device.
func (p *Port) Close() error {
	return p.f.Close()
}
