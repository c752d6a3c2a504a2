package fiq

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Sink kinds.
const (
	SinkFile   = "file"
	SinkSerial = "serial"
	SinkDevice = "fiq"
)

// SinkConfig selects and parameterizes a record destination.
type SinkConfig struct {
	Kind string
	Path string // file path or device node
	Baud int    // serial only
}

// OpenSink opens the destination described by cfg.
func OpenSink(cfg SinkConfig) (io.WriteCloser, error) {
	switch cfg.Kind {
	case SinkFile, "":
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "create output %s", cfg.Path)
		}
		return &fileSink{Writer: bufio.NewWriterSize(f, fileBuffer), f: f}, nil
	case SinkSerial:
		return OpenSerial(cfg.Path, cfg.Baud)
	case SinkDevice:
		return OpenDevice(cfg.Path)
	}
	return nil, errors.Errorf("unknown sink kind %q", cfg.Kind)
}

// fileBuffer holds a few hundred records between writes.
const fileBuffer = 64 << 10

// fileSink buffers records in front of the output file.
type fileSink struct {
	*bufio.Writer
	f *os.File
}

// Close flushes pending records and closes the file.
func (s *fileSink) Close() error {
	ferr := s.Flush()
	cerr := s.f.Close()
	if ferr != nil {
		return errors.Wrapf(ferr, "flush %s", s.f.Name())
	}
	return errors.Wrapf(cerr, "close %s", s.f.Name())
}

// OpenSerial streams records to a serial port.
func OpenSerial(device string, baud int) (io.WriteCloser, error) {
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial %s", device)
	}
	return p, nil
}
