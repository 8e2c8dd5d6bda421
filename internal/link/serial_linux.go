//go:build linux

package link

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenSerial opens device as a raw 8N1 line at 115200 baud. The descriptor
// is non-blocking and registered with the runtime poller, so closing the
// port unblocks a pending Read.
func OpenSerial(device string) (Port, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: device, Err: err}
	}

	if err := configureRaw(fd); err != nil {
		unix.Close(fd)
		return nil, &os.PathError{Op: "configure", Path: device, Err: err}
	}

	return os.NewFile(uintptr(fd), device), nil
}

func configureRaw(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Cflag &^= unix.PARENB | unix.CSTOPB | unix.CSIZE | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHONL | unix.ISIG
	t.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY |
		unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL
	t.Oflag &^= unix.OPOST | unix.ONLCR

	t.Cc[unix.VTIME] = 100
	t.Cc[unix.VMIN] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.B115200
	t.Ispeed = unix.B115200
	t.Ospeed = unix.B115200

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
