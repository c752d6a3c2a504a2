package stepgen

import (
	"io"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// MotorDriver switches motor power and microstep pins. Motors are 0-based.
type MotorDriver interface {
	Energize(m int) error
	Deenergize(m int) error
	SetMicrosteps(m, mode int) error
}

// motorRun is the per-motor run state.
type motorRun struct {
	acc      int64
	inc      int64
	power    PowerState
	deadline uint32
}

// runState is mutated by the loader and the run encoder only.
type runState struct {
	downcount      uint32
	ticksXSubsteps int64
	motors         [fiq.Motors]motorRun
}

// Generator owns the prep buffer, the run state and the record writer.
type Generator struct {
	set    Settings
	src    Source
	motors MotorDriver
	clock  systick.Clock
	out    *fiq.Writer

	token Owner
	prep  Segment
	run   runState

	// encoder state carried across segments
	elapsed  uint32
	dirClear uint32
	dirSet   uint32

	steps    [fiq.Motors]uint64
	prepared uint64
	loaded   uint64
}

// New creates a generator reading moves from src. motors may be nil when
// no driver board is attached.
func New(set Settings, src Source, motors MotorDriver, clock systick.Clock) *Generator {
	g := &Generator{
		set:    set,
		src:    src,
		motors: motors,
		clock:  clock,
		out:    fiq.NewWriter(io.Discard),
	}
	g.Reset()
	return g
}

// Reset returns the pipeline to its initial state. Motor power is left as is.
func (g *Generator) Reset() {
	power := [fiq.Motors]PowerState{}
	for m := range g.run.motors {
		power[m] = g.run.motors[m].power
	}
	g.run = runState{}
	for m := range g.run.motors {
		g.run.motors[m].power = power[m]
	}
	g.prep = Segment{}
	g.token = OwnedByExec
	g.elapsed = 0
	g.dirClear, g.dirSet = 0, 0
	g.steps = [fiq.Motors]uint64{}
	g.prepared, g.loaded = 0, 0
}

// Settings returns the current settings.
func (g *Generator) Settings() Settings { return g.set }

// Motor returns the settings of motor m for in-place updates.
func (g *Generator) Motor(m int) *MotorSettings { return &g.set.Motors[m] }

// SetIdleTimeout updates the idle timeout, clamped to the allowed range.
func (g *Generator) SetIdleTimeout(seconds float64) {
	g.set.IdleTimeout = clampIdle(seconds)
}

// SetOutput directs records to w and clears the record counters. A nil w
// discards records.
func (g *Generator) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	g.out.Reset(w)
	g.elapsed = 0
	g.steps = [fiq.Motors]uint64{}
}

// Flush writes the trailer record carrying the ticks elapsed since the
// last record, with every step line low.
func (g *Generator) Flush() error {
	if g.elapsed == 0 {
		return nil
	}
	rec := fiq.Record{Timer: g.elapsed, Clear: fiq.AllSteps, Set: 0}
	if err := g.out.Write(rec); err != nil {
		return errors.Wrap(stat.ErrIOFailure, err.Error())
	}
	g.elapsed = 0
	return nil
}

// Token returns the prep buffer owner.
func (g *Generator) Token() Owner { return g.token }

// Busy reports whether a segment is still being run.
func (g *Generator) Busy() bool { return g.run.downcount != 0 }

// RequestNextSegment pulls segments from the source while the prep buffer
// belongs to exec, preparing and loading each one in turn. A segment that
// fails to prepare is logged and skipped.
func (g *Generator) RequestNextSegment() error {
	for g.token == OwnedByExec {
		mv, ok := g.src.NextSegment()
		if !ok {
			g.stopIfIdle()
			return nil
		}
		if err := g.prepMove(mv); err != nil {
			debug.Error(errors.Wrapf(err, "skip %s segment", mv.Type))
			continue
		}
		g.token = OwnedByLoader
		if g.run.downcount != 0 {
			return nil
		}
		if err := g.load(); err != nil {
			return err
		}
	}
	return nil
}

// load consumes the prep buffer. It runs a line to completion, then hands
// the buffer back to exec.
func (g *Generator) load() error {
	if g.token != OwnedByLoader {
		return stat.MemoryFault("loader entered while prep buffer is owned by %s", g.token)
	}
	var err error
	switch g.prep.Move {
	case MoveLine:
		g.loadLine()
		err = g.runSegment()
	case MoveDwell:
		err = g.loadDwell()
	}
	g.loaded++
	g.PrepNull()
	g.token = OwnedByExec
	return err
}

func (g *Generator) loadLine() {
	p := &g.prep
	g.run.downcount = p.Ticks
	g.run.ticksXSubsteps = p.TicksXSubsteps
	g.dirClear, g.dirSet = 0, 0

	for m := range g.run.motors {
		r := &g.run.motors[m]
		r.inc = p.motors[m].inc
		if p.ResetFlag {
			r.acc = -r.inc
		}
		if r.inc != 0 {
			if p.motors[m].dir == 0 {
				g.dirClear |= fiq.DirBit[m]
			} else {
				g.dirSet |= fiq.DirBit[m]
			}
			if r.power != PowerRunning {
				g.energize(m)
			}
			r.power = PowerRunning
			continue
		}
		if r.power == PowerOff || r.power == PowerIdle {
			continue
		}
		if g.set.Motors[m].PowerMode == IdleWhenStopped {
			r.power = PowerStartIdleTimeout
		} else {
			r.power = PowerStopped
		}
	}
	debug.Trace("load line: %d ticks, reset=%v, dirs set=%#x clear=%#x", p.Ticks, p.ResetFlag, g.dirSet, g.dirClear)
}

// loadDwell emits one record holding the dwell time. Motor power is untouched.
func (g *Generator) loadDwell() error {
	rec := fiq.Record{Timer: g.prep.Ticks, Clear: fiq.AllSteps, Set: 0}
	g.run.downcount = 0
	debug.Trace("load dwell: %d ticks", g.prep.Ticks)
	if err := g.out.Write(rec); err != nil {
		return errors.Wrap(stat.ErrIOFailure, err.Error())
	}
	return nil
}

// runSegment is the DDA. Every tick each running motor adds its increment
// to a zero-centered accumulator; a positive accumulator is a step.
func (g *Generator) runSegment() error {
	for g.run.downcount > 0 {
		var steps uint32
		for m := range g.run.motors {
			r := &g.run.motors[m]
			if r.power != PowerRunning {
				continue
			}
			r.acc += r.inc
			if r.acc > 0 {
				r.acc -= g.run.ticksXSubsteps
				steps |= fiq.StepBit[m]
				g.steps[m]++
			}
		}
		if steps != 0 {
			clr := fiq.Record{Timer: g.elapsed, Clear: fiq.AllSteps | g.dirClear, Set: g.dirSet}
			set := fiq.Record{Timer: 0, Clear: g.dirClear, Set: g.dirSet | steps}
			if err := g.out.Write(clr); err != nil {
				g.run.downcount = 0
				return errors.Wrap(stat.ErrIOFailure, err.Error())
			}
			if err := g.out.Write(set); err != nil {
				g.run.downcount = 0
				return errors.Wrap(stat.ErrIOFailure, err.Error())
			}
			g.elapsed = 0
		}
		g.elapsed++
		g.run.downcount--
	}
	return nil
}

// stopIfIdle winds down motors once the planner is empty and no segment runs.
func (g *Generator) stopIfIdle() {
	if g.run.downcount != 0 {
		return
	}
	for m := range g.run.motors {
		r := &g.run.motors[m]
		if r.power == PowerRunning || r.power == PowerStopped {
			r.power = PowerStartIdleTimeout
		}
	}
}

// Validate checks the pipeline structures for impossible states.
func (g *Generator) Validate() error {
	if g.set.Frequency == 0 || g.set.Substeps == 0 {
		return stat.MemoryFault("stepgen: zero DDA frequency or substeps")
	}
	if g.token > OwnedByLoader {
		return stat.MemoryFault("stepgen: bad ownership token %d", g.token)
	}
	if g.prep.Move > MoveDwell {
		return stat.MemoryFault("stepgen: bad move type %d", g.prep.Move)
	}
	for m, r := range g.run.motors {
		if r.power > PowerIdle {
			return stat.MemoryFault("stepgen: motor %s in bad power state %d", fiq.MotorNames[m], r.power)
		}
		if r.inc < 0 {
			return stat.MemoryFault("stepgen: motor %s has a negative increment", fiq.MotorNames[m])
		}
	}
	if g.out == nil || g.src == nil {
		return stat.MemoryFault("stepgen: generator not initialized")
	}
	return nil
}

// Snapshot is a read-only view of the pipeline for reports.
type Snapshot struct {
	Token    Owner
	Busy     bool
	Power    [fiq.Motors]PowerState
	Steps    [fiq.Motors]uint64
	Records  uint64
	Prepared uint64
	Loaded   uint64
}

// Snapshot returns the current pipeline counters.
func (g *Generator) Snapshot() Snapshot {
	s := Snapshot{
		Token:    g.token,
		Busy:     g.run.downcount != 0,
		Steps:    g.steps,
		Records:  g.out.Records(),
		Prepared: g.prepared,
		Loaded:   g.loaded,
	}
	for m := range g.run.motors {
		s.Power[m] = g.run.motors[m].power
	}
	return s
}
