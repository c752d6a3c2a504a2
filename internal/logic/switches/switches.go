// Package switches debounces the homing and limit inputs.
//
// Every axis has a min and a max switch. A raw pin sample is corrected for
// NO/NC wiring so that 0 always means open and 1 always means closed. An
// accepted transition is classified as a leading (closing) or trailing
// (opening) edge and starts a lockout window during which further samples
// are ignored. Switches act on the machine only through their hook actions.
package switches

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Axes is the number of switch pairs.
const Axes = fiq.Motors

// Type is the switch wiring.
type Type uint8

const (
	NormallyOpen Type = iota
	NormallyClosed
)

// Mode classifies what a switch is used for.
type Mode uint8

const (
	Disabled Mode = iota
	Homing
	Limit
	HomingLimit
)

var modeNames = [...]string{config.SwitchDisabled, config.SwitchHoming, config.SwitchLimit, config.SwitchHomingLimit}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return Disabled, errors.Errorf("unknown switch mode %q", s)
}

// ParseType maps a config string to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case config.SwitchNormallyOpen:
		return NormallyOpen, nil
	case config.SwitchNormallyClosed:
		return NormallyClosed, nil
	}
	return NormallyOpen, errors.Errorf("unknown switch type %q", s)
}

// State is the debounced switch state.
type State uint8

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// Edge is the last transition seen.
type Edge uint8

const (
	EdgeNone Edge = iota
	Leading
	Trailing
)

func (e Edge) String() string {
	switch e {
	case Leading:
		return "leading"
	case Trailing:
		return "trailing"
	}
	return "none"
}

// Position selects the min or max switch of an axis.
type Position uint8

const (
	Min Position = iota
	Max
)

func (p Position) String() string {
	if p == Max {
		return "max"
	}
	return "min"
}

// Action is a hook behavior. The set is closed; the handler decides what
// each one does to the machine.
type Action uint8

const (
	ActionNone Action = iota
	ActionFeedhold
	ActionCycleStart
	ActionLimitTrip
)

func (a Action) String() string {
	switch a {
	case ActionFeedhold:
		return "feedhold"
	case ActionCycleStart:
		return "cycle_start"
	case ActionLimitTrip:
		return "limit_trip"
	}
	return "none"
}

// Handler receives hook actions.
type Handler interface {
	SwitchAction(a Action, axis int, pos Position)
}

// Hooks binds an action to each switch event.
type Hooks struct {
	WhenOpen   Action
	WhenClosed Action
	OnLeading  Action
	OnTrailing Action
}

// DefaultHooks holds position on a closing switch and resumes on release.
var DefaultHooks = Hooks{OnLeading: ActionFeedhold, OnTrailing: ActionCycleStart}

// Switch is one debounced input.
type Switch struct {
	Pin           int
	Type          Type
	Mode          Mode
	State         State
	Edge          Edge
	DebounceTicks uint32
	Timeout       uint32 // end of the lockout window
	Locked        bool   // Timeout is armed
	Hooks         Hooks
}

// Debouncer owns every switch.
type Debouncer struct {
	sw      [Axes][2]Switch
	clock   systick.Clock
	handler Handler
	gpio    gpio.Driver
}

// New creates a debouncer with every switch disabled and default hooks.
func New(clock systick.Clock, handler Handler) *Debouncer {
	d := &Debouncer{clock: clock, handler: handler}
	for axis := range d.sw {
		for pos := range d.sw[axis] {
			d.sw[axis][pos] = Switch{Hooks: DefaultHooks}
		}
	}
	return d
}

// FromConfig creates a debouncer from cfg and sets up the input pins on g.
func FromConfig(cfg config.SwitchesConfig, g gpio.Driver, clock systick.Clock, handler Handler) (*Debouncer, error) {
	d := New(clock, handler)
	d.gpio = g
	global, err := ParseType(cfg.Type)
	if err != nil {
		return nil, err
	}
	for axis, a := range cfg.Axes {
		if axis >= Axes {
			break
		}
		for pos, sc := range []config.SwitchConfig{a.Min, a.Max} {
			mode, err := ParseMode(sc.Mode)
			if err != nil {
				return nil, errors.Wrapf(err, "axis %s", fiq.MotorNames[axis])
			}
			typ := global
			if sc.Type != "" {
				if typ, err = ParseType(sc.Type); err != nil {
					return nil, errors.Wrapf(err, "axis %s", fiq.MotorNames[axis])
				}
			}
			s := &d.sw[axis][pos]
			s.Pin = sc.Pin
			s.Type = typ
			s.Mode = mode
			s.DebounceTicks = cfg.DebounceMs
			if mode != Disabled && g != nil {
				if err := g.SetupPin(sc.Pin, gpio.InputPullUp); err != nil {
					return nil, errors.Wrapf(err, "setup switch pin %d", sc.Pin)
				}
			}
		}
	}
	return d, nil
}

// Switch returns the switch at axis/pos.
func (d *Debouncer) Switch(axis int, pos Position) *Switch {
	return &d.sw[axis][pos]
}

// SetHandler replaces the action handler.
func (d *Debouncer) SetHandler(h Handler) { d.handler = h }

// Each calls fn for every switch.
func (d *Debouncer) Each(fn func(axis int, pos Position, s *Switch)) {
	for axis := range d.sw {
		for pos := range d.sw[axis] {
			fn(axis, Position(pos), &d.sw[axis][pos])
		}
	}
}

func (d *Debouncer) fire(a Action, axis int, pos Position) {
	if a == ActionNone || d.handler == nil {
		return
	}
	d.handler.SwitchAction(a, axis, pos)
}

// ReadSwitch feeds one raw pin sample (1 = high) to the switch at axis/pos
// and reports whether its state changed.
func (d *Debouncer) ReadSwitch(axis int, pos Position, pin uint8) bool {
	s := &d.sw[axis][pos]
	if s.Mode == Disabled {
		return false
	}
	now := d.clock.Ticks()
	if s.Locked {
		if systick.Before(now, s.Timeout) {
			return false
		}
		s.Locked = false
	}
	corrected := State((pin & 1) ^ (uint8(s.Type) ^ 1))
	if corrected == s.State {
		s.Edge = EdgeNone
		if s.State == Open {
			d.fire(s.Hooks.WhenOpen, axis, pos)
		} else {
			d.fire(s.Hooks.WhenClosed, axis, pos)
		}
		return false
	}

	s.State = corrected
	if s.State == Closed {
		s.Edge = Leading
		d.fire(s.Hooks.OnLeading, axis, pos)
	} else {
		s.Edge = Trailing
		d.fire(s.Hooks.OnTrailing, axis, pos)
	}
	s.Timeout = now + s.DebounceTicks
	s.Locked = true
	debug.Edge(axis, int(pos), s.Edge.String())
	return true
}

// PollTask samples every enabled switch pin once per scheduler pass.
type PollTask struct {
	d *Debouncer
}

// PollTask returns the scheduler task polling the switch pins.
func (d *Debouncer) PollTask() *PollTask { return &PollTask{d: d} }

// Tick implements the scheduler task contract.
func (t *PollTask) Tick() stat.Status {
	d := t.d
	if d.gpio == nil {
		return stat.Noop
	}
	st := stat.Noop
	for axis := range d.sw {
		for pos := range d.sw[axis] {
			s := &d.sw[axis][pos]
			if s.Mode == Disabled {
				continue
			}
			lvl, err := d.gpio.ReadPin(s.Pin)
			if err != nil {
				debug.Error(errors.Wrapf(err, "read switch %s %s", fiq.MotorNames[axis], Position(pos)))
				return stat.Error
			}
			if d.ReadSwitch(axis, Position(pos), lvl.Bit()) {
				st = stat.OK
			}
		}
	}
	return st
}

// Validate checks every switch for out of range fields.
func (d *Debouncer) Validate() error {
	for axis := range d.sw {
		for pos, s := range d.sw[axis] {
			if s.Type > NormallyClosed || s.Mode > HomingLimit || s.State > Closed || s.Edge > Trailing {
				return stat.MemoryFault("switch %s %s corrupted", fiq.MotorNames[axis], Position(pos))
			}
			h := s.Hooks
			if h.WhenOpen > ActionLimitTrip || h.WhenClosed > ActionLimitTrip || h.OnLeading > ActionLimitTrip || h.OnTrailing > ActionLimitTrip {
				return stat.MemoryFault("switch %s %s has an unknown action", fiq.MotorNames[axis], Position(pos))
			}
		}
	}
	return nil
}

// Closed lists the enabled switches currently closed, as "X-min" labels.
func (d *Debouncer) Closed() []string {
	var out []string
	d.Each(func(axis int, pos Position, s *Switch) {
		if s.Mode != Disabled && s.State == Closed {
			out = append(out, fiq.MotorNames[axis]+"-"+pos.String())
		}
	})
	return out
}
