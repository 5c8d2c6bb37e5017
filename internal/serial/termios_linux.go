//go:build linux

package serial

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pmcloud/serclient/internal/config"
)

var baudRates = map[int]uint32{
	50: unix.B50, 75: unix.B75, 110: unix.B110, 134: unix.B134,
	150: unix.B150, 200: unix.B200, 300: unix.B300, 600: unix.B600,
	1200: unix.B1200, 1800: unix.B1800, 2400: unix.B2400, 4800: unix.B4800,
	9600: unix.B9600, 19200: unix.B19200, 38400: unix.B38400,
	57600: unix.B57600, 115200: unix.B115200, 230400: unix.B230400,
	460800: unix.B460800, 921600: unix.B921600,
}

var byteSizeBits = map[int]uint32{
	5: unix.CS5, 6: unix.CS6, 7: unix.CS7, 8: unix.CS8,
}

// configure sets f's termios attributes to raw mode with the baud rate,
// byte size, parity, and stop bits from cfg, via the TCGETS/TCSETS ioctl
// pair, the same sequence the pack's goserial driver performs directly.
func configure(f *os.File, cfg config.Serial) error {
	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("TCGETS: %w", err)
	}

	// Raw mode: no line discipline, no signal generation, no echo.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CREAD | unix.CLOCAL

	size, ok := byteSizeBits[cfg.ByteSize]
	if !ok {
		size = unix.CS8
	}
	t.Cflag |= size

	switch cfg.Parity {
	case "E":
		t.Cflag |= unix.PARENB
	case "O":
		t.Cflag |= unix.PARENB | unix.PARODD
	case "M":
		t.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case "S":
		t.Cflag |= unix.PARENB | unix.CMSPAR
	case "N", "":
		// no parity bits to set
	}

	if cfg.StopBits == "2" {
		t.Cflag |= unix.CSTOPB
	}

	baud, ok := baudRates[cfg.BaudRate]
	if !ok {
		baud = unix.B115200
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baud
	t.Ispeed = baud
	t.Ospeed = baud

	// Non-canonical read with no minimum byte count and no extra inter-byte
	// timeout: Port.Read supplies its own deadline via SetReadDeadline.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		return fmt.Errorf("TCSETS: %w", err)
	}
	return nil
}
