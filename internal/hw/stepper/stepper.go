package stepper

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

// Config holds the driver-chip wiring of one motor. Step and direction lines
// are driven by the pulse generator, so only the slow control pins live here.
type Config struct {
	EnablePin int    // ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	MSPins    [3]int // MS0, MS1, MS2 microstep select pins. 0 = not used.
}

// Stepper drives the enable and microstep lines of a single motor driver.
type Stepper struct {
	gpio      gpio.Driver
	cfg       Config
	energized bool
}

// NewStepper configures the control pins. The driver starts de-energized.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	s := &Stepper{gpio: g, cfg: cfg}

	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.High)
	}
	for _, pin := range cfg.MSPins {
		if pin > 0 {
			_ = g.SetupPin(pin, gpio.Output)
		}
	}
	return s
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	s.energized = true
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	s.energized = false
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

// Energized reports the last commanded enable state.
func (s *Stepper) Energized() bool {
	return s.energized
}

// MicrostepBits returns the MS0, MS1, MS2 levels for a microstep mode.
// Unsupported modes select full stepping.
func MicrostepBits(mode int) (ms0, ms1, ms2 gpio.Level) {
	switch mode {
	case 16:
		return gpio.High, gpio.High, gpio.High
	case 8:
		return gpio.High, gpio.High, gpio.Low
	case 4:
		return gpio.Low, gpio.High, gpio.Low
	case 2:
		return gpio.High, gpio.Low, gpio.Low
	default:
		return gpio.Low, gpio.Low, gpio.Low
	}
}

// SetMicrosteps programs the microstep select pins.
func (s *Stepper) SetMicrosteps(mode int) error {
	ms0, ms1, ms2 := MicrostepBits(mode)
	levels := [3]gpio.Level{ms0, ms1, ms2}
	debug.Verbose("Stepper: microsteps=%d (MS0=%d MS1=%d MS2=%d)", mode, ms0.Bit(), ms1.Bit(), ms2.Bit())
	for i, pin := range s.cfg.MSPins {
		if pin <= 0 {
			continue
		}
		if err := s.gpio.WritePin(pin, levels[i]); err != nil {
			return errors.Wrapf(err, "write MS%d pin %d", i, pin)
		}
	}
	return nil
}
