package stepper

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

// Board groups the drivers of every motor, indexed from 0.
type Board struct {
	motors []*Stepper
}

// NewBoard creates one driver per config entry.
func NewBoard(g gpio.Driver, cfgs []Config) *Board {
	b := &Board{motors: make([]*Stepper, len(cfgs))}
	for i, c := range cfgs {
		b.motors[i] = NewStepper(g, c)
	}
	return b
}

func (b *Board) motor(m int) (*Stepper, error) {
	if m < 0 || m >= len(b.motors) {
		return nil, errors.Errorf("motor %d out of range", m+1)
	}
	return b.motors[m], nil
}

// Energize enables motor m.
func (b *Board) Energize(m int) error {
	s, err := b.motor(m)
	if err != nil {
		return err
	}
	return s.Enable()
}

// Deenergize disables motor m.
func (b *Board) Deenergize(m int) error {
	s, err := b.motor(m)
	if err != nil {
		return err
	}
	return s.Disable()
}

// SetMicrosteps programs the microstep pins of motor m.
func (b *Board) SetMicrosteps(m, mode int) error {
	s, err := b.motor(m)
	if err != nil {
		return err
	}
	return s.SetMicrosteps(mode)
}

// Energized reports whether motor m is enabled.
func (b *Board) Energized(m int) bool {
	s, err := b.motor(m)
	return err == nil && s.Energized()
}
