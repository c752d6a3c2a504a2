//go:build linux

package fiq

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pulse engine ioctls, _IO('p', 0xb0..0xb2).
const (
	ioctlStart = 0x70b0
	ioctlStop  = 0x70b1
	ioctlReset = 0x70b2
)

// DefaultDevice is the pulse engine character device.
const DefaultDevice = "/dev/fiq"

type device struct {
	fd int
}

// OpenDevice opens the FIQ pulse engine and clears its buffer. The engine
// plays the buffered stream when the device is closed.
func OpenDevice(path string) (io.WriteCloser, error) {
	if path == "" {
		path = DefaultDevice
	}
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	d := &device{fd: fd}
	if err := d.ioctl(ioctlStop); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := d.ioctl(ioctlReset); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *device) ioctl(req uint) error {
	if err := unix.IoctlSetInt(d.fd, req, 0); err != nil {
		return errors.Wrapf(err, "fiq ioctl %#x", req)
	}
	return nil
}

func (d *device) Write(p []byte) (int, error) {
	n, err := unix.Write(d.fd, p)
	if err != nil {
		return n, errors.Wrap(err, "write fiq device")
	}
	return n, nil
}

func (d *device) Close() error {
	err := d.ioctl(ioctlStart)
	if cerr := unix.Close(d.fd); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close fiq device")
	}
	return err
}
