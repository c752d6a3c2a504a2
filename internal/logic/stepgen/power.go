package stepgen

import (
	"fmt"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// PowerState is the per-motor power sequencing state.
type PowerState uint8

const (
	PowerOff PowerState = iota
	PowerRunning
	PowerStopped
	PowerStartIdleTimeout
	PowerTimeIdleTimeout
	PowerIdle
)

var powerNames = [...]string{"off", "running", "stopped", "start_idle_timeout", "time_idle_timeout", "idle"}

func (p PowerState) String() string {
	if int(p) < len(powerNames) {
		return powerNames[p]
	}
	return fmt.Sprintf("PowerState(%d)", uint8(p))
}

// IdleWhenStoppedTimeout is the timeout of IdleWhenStopped motors, seconds.
const IdleWhenStoppedTimeout = 0.1

func clampIdle(s float64) float64 { return config.ClampIdleTimeout(s) }

func (g *Generator) idleTimeoutTicks(m int) uint32 {
	s := clampIdle(g.set.IdleTimeout)
	if g.set.Motors[m].PowerMode == IdleWhenStopped {
		s = IdleWhenStoppedTimeout
	}
	return uint32(s * 1000)
}

func (g *Generator) energize(m int) {
	if g.motors == nil {
		return
	}
	if err := g.motors.Energize(m); err != nil {
		debug.Error(err)
	}
}

func (g *Generator) deenergize(m int) {
	if g.motors == nil {
		return
	}
	if err := g.motors.Deenergize(m); err != nil {
		debug.Error(err)
	}
}

// Power returns the power state of motor m.
func (g *Generator) Power(m int) PowerState { return g.run.motors[m].power }

// PowerTask sequences motor power: a motor entering StartIdleTimeout
// gets a deadline, and once the deadline passes it is de-energized.
type PowerTask struct {
	g *Generator
}

// PowerTask returns the scheduler task for motor power sequencing.
func (g *Generator) PowerTask() *PowerTask { return &PowerTask{g: g} }

// Tick implements the scheduler task contract.
func (t *PowerTask) Tick() stat.Status {
	g := t.g
	now := g.clock.Ticks()
	st := stat.Noop
	for m := range g.run.motors {
		r := &g.run.motors[m]
		switch r.power {
		case PowerStartIdleTimeout:
			r.deadline = now + g.idleTimeoutTicks(m)
			r.power = PowerTimeIdleTimeout
			st = stat.OK
		case PowerTimeIdleTimeout:
			if !systick.Before(now, r.deadline) {
				r.power = PowerIdle
				g.deenergize(m)
				debug.Verbose("motor %s idle", fiq.MotorNames[m])
				st = stat.OK
			}
		}
	}
	return st
}

// EnergizeAll powers every motor and starts its idle timeout.
func (g *Generator) EnergizeAll() {
	for m := range g.run.motors {
		g.energize(m)
		g.run.motors[m].power = PowerStartIdleTimeout
	}
}

// DeenergizeAll removes power from every motor.
func (g *Generator) DeenergizeAll() {
	for m := range g.run.motors {
		g.deenergize(m)
		g.run.motors[m].power = PowerOff
	}
}

// SetPowerMode changes the power mode of motor m. A stopped, powered motor
// restarts its idle timeout under the new mode right away.
func (g *Generator) SetPowerMode(m int, mode PowerMode) {
	g.set.Motors[m].PowerMode = mode
	switch g.run.motors[m].power {
	case PowerStopped, PowerTimeIdleTimeout:
		g.run.motors[m].power = PowerStartIdleTimeout
	}
}

// SetMicrosteps programs the microstep pins of motor m and records the
// new mode, which changes its steps per unit.
func (g *Generator) SetMicrosteps(m, mode int) error {
	g.set.Motors[m].Microsteps = mode
	if g.motors == nil {
		return nil
	}
	return g.motors.SetMicrosteps(m, mode)
}
