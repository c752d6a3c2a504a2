// Package machine holds the machine cycle state and turns feedhold,
// cycle-start, limit and reset requests into state changes.
//
// Requests may arrive from any goroutine (the web server); they are
// latched atomically and serviced by the scheduler tasks on the control
// loop.
package machine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/logic/switches"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// State is the machine cycle state.
type State uint32

const (
	Ready State = iota
	Cycle
	Hold
	ProgramEnd
	Alarm
)

var stateNames = [...]string{"ready", "cycle", "hold", "end", "alarm"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// ErrLimit is raised when a limit switch closes.
var ErrLimit = errors.New("limit switch hit")

// Planner is the part of the planner the machine controls.
type Planner interface {
	Hold()
	Resume()
	Flush()
	Empty() bool
}

// Runner reports whether pulses are still being produced.
type Runner interface {
	Busy() bool
}

// Machine is the canonical machine state.
type Machine struct {
	state   atomic.Uint32
	planner Planner
	runner  Runner

	feedhold   atomic.Bool
	cycleStart atomic.Bool
	reset      atomic.Bool
	limit      atomic.Bool

	endPending bool

	mu    sync.Mutex
	alarm error
}

// New creates a machine in the Ready state.
func New(planner Planner, runner Runner) *Machine {
	return &Machine{planner: planner, runner: runner}
}

// State returns the current state. Safe from any goroutine.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) set(s State) {
	old := State(m.state.Swap(uint32(s)))
	if old != s {
		debug.Verbose("machine: %s -> %s", old, s)
	}
}

// AlarmErr returns the error that raised the current alarm.
func (m *Machine) AlarmErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alarm
}

// RequestFeedhold latches a feedhold request.
func (m *Machine) RequestFeedhold() { m.feedhold.Store(true) }

// RequestCycleStart latches a cycle start (resume) request.
func (m *Machine) RequestCycleStart() { m.cycleStart.Store(true) }

// RequestReset latches a reset request.
func (m *Machine) RequestReset() { m.reset.Store(true) }

// TakeReset consumes a pending reset request.
func (m *Machine) TakeReset() bool { return m.reset.Swap(false) }

// SwitchAction implements switches.Handler.
func (m *Machine) SwitchAction(a switches.Action, axis int, pos switches.Position) {
	switch a {
	case switches.ActionFeedhold:
		m.RequestFeedhold()
	case switches.ActionCycleStart:
		m.RequestCycleStart()
	case switches.ActionLimitTrip:
		debug.Info("limit switch %s-%s closed", fiq.MotorNames[axis], pos)
		m.limit.Store(true)
	}
}

// BindSwitches applies the switch policy: limit switches trip an alarm on
// closing, homing switches keep the feedhold/cycle-start defaults.
func (m *Machine) BindSwitches(d *switches.Debouncer) {
	d.SetHandler(m)
	d.Each(func(axis int, pos switches.Position, s *switches.Switch) {
		switch s.Mode {
		case switches.Limit, switches.HomingLimit:
			s.Hooks = switches.Hooks{OnLeading: switches.ActionLimitTrip}
		default:
			s.Hooks = switches.DefaultHooks
		}
	})
}

// CycleStart is called when motion is queued.
func (m *Machine) CycleStart() {
	switch m.State() {
	case Ready, ProgramEnd:
		m.endPending = false
		m.set(Cycle)
	}
}

// ProgramEnd ends the cycle once queued motion has run.
func (m *Machine) ProgramEnd() {
	if m.State() == Alarm {
		return
	}
	m.endPending = true
	if m.State() != Cycle && m.State() != Hold {
		m.endPending = false
		m.set(ProgramEnd)
	}
}

// Alarm stops all motion and latches err until a reset.
func (m *Machine) Alarm(err error) {
	m.mu.Lock()
	m.alarm = err
	m.mu.Unlock()
	if m.planner != nil {
		m.planner.Flush()
	}
	m.set(Alarm)
	debug.Error(errors.Wrap(err, "ALARM"))
}

// Reset clears an alarm and any pending request.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.alarm = nil
	m.mu.Unlock()
	m.feedhold.Store(false)
	m.cycleStart.Store(false)
	m.limit.Store(false)
	m.endPending = false
	if m.planner != nil {
		m.planner.Flush()
		m.planner.Resume()
	}
	m.set(Ready)
	debug.Info("machine reset")
}

// Validate checks the machine state for impossible values.
func (m *Machine) Validate() error {
	if m.State() > Alarm {
		return stat.MemoryFault("machine state %d", m.state.Load())
	}
	return nil
}

// AlarmTask freezes every later task while the machine is in alarm.
type AlarmTask struct{ m *Machine }

func (m *Machine) AlarmTask() *AlarmTask { return &AlarmTask{m: m} }

func (t *AlarmTask) Tick() stat.Status {
	if t.m.State() == Alarm {
		return stat.EAgain
	}
	return stat.Noop
}

// LimitTask turns a latched limit trip into an alarm.
type LimitTask struct{ m *Machine }

func (m *Machine) LimitTask() *LimitTask { return &LimitTask{m: m} }

func (t *LimitTask) Tick() stat.Status {
	if !t.m.limit.Swap(false) {
		return stat.Noop
	}
	t.m.Alarm(ErrLimit)
	return stat.OK
}

// FeedholdTask sequences feedhold and cycle start, and closes the cycle
// once the planner and the pulse pipeline are both idle.
type FeedholdTask struct{ m *Machine }

func (m *Machine) FeedholdTask() *FeedholdTask { return &FeedholdTask{m: m} }

func (t *FeedholdTask) Tick() stat.Status {
	m := t.m
	st := stat.Noop
	if m.feedhold.Swap(false) && m.State() == Cycle {
		m.planner.Hold()
		m.set(Hold)
		debug.Info("feedhold")
		st = stat.OK
	}
	if m.cycleStart.Swap(false) && m.State() == Hold {
		m.planner.Resume()
		m.set(Cycle)
		debug.Info("cycle start")
		st = stat.OK
	}
	if m.State() == Cycle && m.planner.Empty() && (m.runner == nil || !m.runner.Busy()) {
		if m.endPending {
			m.endPending = false
			m.set(ProgramEnd)
		} else {
			m.set(Ready)
		}
		st = stat.OK
	}
	return st
}
