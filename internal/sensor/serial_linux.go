//go:build linux

package sensor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

func baudFlag(baud int) (uint32, error) {
	flag, ok := baudRates[baud]
	if !ok {
		return 0, fmt.Errorf("unsupported baud rate: %d", baud)
	}
	return flag, nil
}

// openSerial opens the tty non-blocking so Close interrupts a pending Read
// through the runtime poller.
func openSerial(device string, baud int) (io.ReadCloser, error) {
	speed, err := baudFlag(baud)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	rc, err := f.SyscallConn()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	var termErr error
	if err := rc.Control(func(fd uintptr) {
		termErr = makeRaw(int(fd), speed)
	}); err != nil {
		_ = f.Close()
		return nil, err
	}
	if termErr != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", device, termErr)
	}

	return f, nil
}

// makeRaw puts the line into raw 8N1 mode at the given speed.
func makeRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
