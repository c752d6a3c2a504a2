//go:build !linux

package fiq

import (
	"io"

	"github.com/pkg/errors"
)

// DefaultDevice is the pulse engine character device.
const DefaultDevice = "/dev/fiq"

// OpenDevice is only available on Linux.
func OpenDevice(path string) (io.WriteCloser, error) {
	return nil, errors.New("fiq device output requires linux")
}
