package motion

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/stepper"
)

// Controller routes motor power and microstep requests to the driver board.
// It's an intermediate layer between the pulse pipeline (stepgen, settings)
// and low-level (GPIO).
type Controller struct {
	board *stepper.Board
}

func NewController(board *stepper.Board) *Controller {
	return &Controller{board: board}
}

func (c *Controller) Energize(m int) error {
	debug.Verbose("motor %s: energize", motorName(m))
	return errors.Wrapf(c.board.Energize(m), "energize motor %s", motorName(m))
}

func (c *Controller) Deenergize(m int) error {
	debug.Verbose("motor %s: deenergize", motorName(m))
	return errors.Wrapf(c.board.Deenergize(m), "deenergize motor %s", motorName(m))
}

// SetMicrosteps programs the MS pins of motor m.
func (c *Controller) SetMicrosteps(m, mode int) error {
	debug.Verbose("motor %s: %d microsteps", motorName(m), mode)
	return errors.Wrapf(c.board.SetMicrosteps(m, mode), "set microsteps on motor %s", motorName(m))
}

// DisableMotors removes power from every motor the board reports enabled.
func (c *Controller) DisableMotors() error {
	for m := 0; m < fiq.Motors; m++ {
		if !c.board.Energized(m) {
			continue
		}
		if err := c.Deenergize(m); err != nil {
			return err
		}
	}
	return nil
}

func motorName(m int) string {
	if m >= 0 && m < fiq.Motors {
		return fiq.MotorNames[m]
	}
	return "?"
}
