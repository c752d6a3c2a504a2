package gpio

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Bit returns 1 for High and 0 for Low.
func (l Level) Bit() uint8 {
	if l {
		return 1
	}
	return 0
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver is a test implementation that logs actions and remembers levels.
// Inputs default to High, which is what an open switch on a pulled-up line reads.
type MockDriver struct {
	levels map[int]Level
	modes  map[int]PinMode
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

// SetInput forces the level returned by ReadPin for pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
}

// Level returns the last level written to (or forced on) pin.
func (m *MockDriver) Level(pin int) (Level, bool) {
	l, ok := m.levels[pin]
	return l, ok
}

// Mode returns the mode pin was set up with.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	mode, ok := m.modes[pin]
	return mode, ok
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if m.modes == nil {
		m.modes = make(map[int]PinMode)
	}
	m.modes[pin] = mode
	return nil
}

// WritePin records level. Like the real driver it refuses pins set up as inputs.
func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	if mode, ok := m.modes[pin]; ok && mode != Output {
		return errors.Errorf("pin %d is an input", pin)
	}
	m.SetInput(pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	if l, ok := m.levels[pin]; ok {
		return l, nil
	}
	return High, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
