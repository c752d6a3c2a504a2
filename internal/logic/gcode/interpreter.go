package gcode

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Axes is the number of programmable axes.
const Axes = fiq.Motors

// axisLetters maps axis index to its G-code word.
var axisLetters = [Axes]byte{'X', 'Y', 'Z', 'A', 'B'}

const mmPerInch = 25.4

// Planner receives the blocks produced by the interpreter.
type Planner interface {
	Line(target [Axes]float64, feed float64) error
	Dwell(seconds float64) error
	Position() [Axes]float64
	SetPosition(pos [Axes]float64)
}

// Machine is notified of cycle boundaries.
type Machine interface {
	CycleStart()
	ProgramEnd()
}

// State is the modal state of the interpreter.
type State struct {
	Absolute bool
	Inches   bool
	Feed     float64 // mm/min
}

// Interpreter executes parsed commands.
type Interpreter struct {
	state   State
	rapid   float64
	planner Planner
	machine Machine
}

// NewInterpreter creates an interpreter in absolute millimeter mode.
func NewInterpreter(planner Planner, machine Machine, defaultFeed, rapidFeed float64) *Interpreter {
	return &Interpreter{
		state:   State{Absolute: true, Feed: defaultFeed},
		rapid:   rapidFeed,
		planner: planner,
		machine: machine,
	}
}

// State returns the modal state.
func (in *Interpreter) State() State { return in.state }

// ExecuteLine parses and executes one line.
func (in *Interpreter) ExecuteLine(line string) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	return in.Execute(cmd)
}

// Execute runs a parsed command.
func (in *Interpreter) Execute(cmd *Command) error {
	if cmd == nil {
		return nil
	}
	if cmd.Has('F') {
		in.state.Feed = in.toMM(cmd.Get('F', 0))
	}
	switch cmd.Type {
	case 'G':
		return in.executeG(cmd)
	case 'M':
		return in.executeM(cmd)
	case 0:
		if cmd.Has('F') && len(cmd.Parameters) == 1 {
			return nil
		}
		return errors.Wrap(stat.ErrUnsupported, "axis words without a motion command")
	}
	return errors.Wrapf(stat.ErrUnsupported, "%c%d", cmd.Type, cmd.Number)
}

func (in *Interpreter) executeG(cmd *Command) error {
	switch cmd.Number {
	case 0: // rapid
		return in.doMove(cmd, in.rapid)
	case 1: // linear feed
		return in.doMove(cmd, in.state.Feed)
	case 4: // dwell, P in seconds
		if !cmd.Has('P') {
			return errors.Wrap(stat.ErrInputValue, "G4 needs P")
		}
		in.machine.CycleStart()
		return in.planner.Dwell(cmd.Get('P', 0))
	case 20:
		in.state.Inches = true
	case 21:
		in.state.Inches = false
	case 90:
		in.state.Absolute = true
	case 91:
		in.state.Absolute = false
	case 92: // set position
		pos := in.planner.Position()
		for a, l := range axisLetters {
			if cmd.Has(l) {
				pos[a] = in.toMM(cmd.Get(l, 0))
			}
		}
		in.planner.SetPosition(pos)
	default:
		return errors.Wrapf(stat.ErrUnsupported, "G%d", cmd.Number)
	}
	return nil
}

func (in *Interpreter) executeM(cmd *Command) error {
	switch cmd.Number {
	case 2, 30: // program end
		in.machine.ProgramEnd()
		in.state.Absolute = true
		in.state.Inches = false
		return nil
	}
	return errors.Wrapf(stat.ErrUnsupported, "M%d", cmd.Number)
}

func (in *Interpreter) doMove(cmd *Command, feed float64) error {
	target := in.planner.Position()
	for a, l := range axisLetters {
		if !cmd.Has(l) {
			continue
		}
		v := in.toMM(cmd.Get(l, 0))
		if in.state.Absolute {
			target[a] = v
		} else {
			target[a] += v
		}
	}
	debug.Trace("G%d -> %v @ %.1f mm/min", cmd.Number, target, feed)
	in.machine.CycleStart()
	return in.planner.Line(target, feed)
}

func (in *Interpreter) toMM(v float64) float64 {
	if in.state.Inches {
		return v * mmPerInch
	}
	return v
}
