// Package stepgen turns planner segments into FIQ pulse records.
//
// It is a three stage pipeline. The preparer converts a segment (step
// deltas and a duration) into DDA parameters, the loader copies a prepared
// segment into the run state, and the run encoder steps the phase
// accumulators tick by tick and emits a record pair for every tick where a
// motor steps. A single ownership token guards the prep buffer: the
// preparer writes it only while the token is OwnedByExec and the loader
// reads it only while it is OwnedByLoader.
package stepgen

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// MinSegmentMicroseconds is the shortest segment duration accepted.
const MinSegmentMicroseconds = 0.0001

// MoveType tags what a prepared segment contains.
type MoveType uint8

const (
	MoveNull MoveType = iota
	MoveLine
	MoveDwell
)

func (t MoveType) String() string {
	switch t {
	case MoveNull:
		return "null"
	case MoveLine:
		return "line"
	case MoveDwell:
		return "dwell"
	}
	return fmt.Sprintf("MoveType(%d)", uint8(t))
}

// Owner is the prep buffer ownership token.
type Owner uint8

const (
	OwnedByExec Owner = iota
	OwnedByLoader
)

func (o Owner) String() string {
	if o == OwnedByLoader {
		return "loader"
	}
	return "exec"
}

// Move is one unit of work handed out by the planner.
type Move struct {
	Type         MoveType // MoveLine or MoveDwell
	Steps        [fiq.Motors]float64
	Microseconds float64
}

// Source hands out planned moves. NextSegment reports false when the
// planner has nothing to run.
type Source interface {
	NextSegment() (Move, bool)
}

// PowerMode selects how a motor is powered between moves.
type PowerMode uint8

const (
	EnergizedDuringCycle PowerMode = iota
	IdleWhenStopped
)

// ParsePowerMode maps a config string to a PowerMode.
func ParsePowerMode(s string) (PowerMode, error) {
	switch s {
	case config.PowerEnergizedDuringCycle:
		return EnergizedDuringCycle, nil
	case config.PowerIdleWhenStopped:
		return IdleWhenStopped, nil
	}
	return 0, errors.Errorf("unknown power mode %q", s)
}

func (p PowerMode) String() string {
	if p == IdleWhenStopped {
		return config.PowerIdleWhenStopped
	}
	return config.PowerEnergizedDuringCycle
}

// MotorSettings are the per-motor values the pipeline reads.
type MotorSettings struct {
	Polarity     uint8 // 0 normal, 1 reversed
	PowerMode    PowerMode
	Microsteps   int
	StepAngle    float64
	TravelPerRev float64
}

// StepsPerUnit returns steps per mm for these settings.
func (m MotorSettings) StepsPerUnit() float64 {
	return config.StepsPerUnit(m.StepAngle, m.Microsteps, m.TravelPerRev)
}

// Settings holds the DDA timing and motor configuration.
type Settings struct {
	Frequency   uint32  // DDA ticks per second
	Substeps    uint32  // fixed-point scale of phase increments
	ResetFactor uint32  // anti-stall threshold
	IdleTimeout float64 // seconds, for EnergizedDuringCycle motors
	Motors      [fiq.Motors]MotorSettings
}

// SettingsFromConfig extracts the pipeline settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{
		Frequency:   cfg.DDA.Frequency,
		Substeps:    cfg.DDA.Substeps,
		ResetFactor: cfg.DDA.ResetFactor,
		IdleTimeout: cfg.MotorIdleTimeout,
	}
	for m := range s.Motors {
		mc := cfg.Motors[m]
		mode, _ := ParsePowerMode(mc.PowerMode)
		s.Motors[m] = MotorSettings{
			Polarity:     uint8(mc.Polarity),
			PowerMode:    mode,
			Microsteps:   mc.Microsteps,
			StepAngle:    mc.StepAngle,
			TravelPerRev: mc.TravelPerRev,
		}
	}
	return s
}

// motorPrep is the per-motor part of a prepared segment.
type motorPrep struct {
	dir uint8 // 0 or 1 after polarity correction
	inc int64 // |steps| * substeps
}

// Segment is the prep buffer.
type Segment struct {
	Move           MoveType
	Ticks          uint32
	TicksXSubsteps int64
	ResetFlag      bool
	PrevTicks      uint32
	motors         [fiq.Motors]motorPrep
}

// Increment returns the phase increment prepared for motor m.
func (s *Segment) Increment(m int) int64 { return s.motors[m].inc }

// Direction returns the direction bit prepared for motor m.
func (s *Segment) Direction(m int) uint8 { return s.motors[m].dir }

func (g *Generator) ticksFor(us float64) (uint32, error) {
	if err := stat.CheckDuration(us, MinSegmentMicroseconds); err != nil {
		return 0, err
	}
	ticks := math.Floor(us / 1e6 * float64(g.set.Frequency))
	if ticks < 1 {
		return 0, &stat.DurationError{Reason: stat.TooShort, Microseconds: us}
	}
	if ticks > math.MaxUint32 {
		return 0, &stat.DurationError{Reason: stat.OutOfRange, Microseconds: us}
	}
	return uint32(ticks), nil
}

// PrepLine prepares a line segment. steps are signed motor steps for the
// segment, us its duration in microseconds. The prep buffer is left
// untouched on error.
func (g *Generator) PrepLine(steps [fiq.Motors]float64, us float64) error {
	if g.token != OwnedByExec {
		return stat.ErrBufferOwnership
	}
	ticks, err := g.ticksFor(us)
	if err != nil {
		return err
	}
	p := &g.prep
	p.ResetFlag = false
	p.Ticks = ticks
	p.TicksXSubsteps = int64(ticks) * int64(g.set.Substeps)
	for m := range p.motors {
		var dir uint8
		if steps[m] < 0 {
			dir = 1
		}
		p.motors[m].dir = dir ^ g.set.Motors[m].Polarity
		p.motors[m].inc = int64(math.Round(math.Abs(steps[m] * float64(g.set.Substeps))))
	}
	// anti-stall: re-zero the accumulators when the segment shrinks sharply
	if uint64(ticks)*uint64(g.set.ResetFactor) < uint64(p.PrevTicks) {
		p.ResetFlag = true
	}
	p.PrevTicks = ticks
	p.Move = MoveLine
	g.prepared++
	return nil
}

// PrepDwell prepares a dwell of us microseconds.
func (g *Generator) PrepDwell(us float64) error {
	if g.token != OwnedByExec {
		return stat.ErrBufferOwnership
	}
	ticks, err := g.ticksFor(us)
	if err != nil {
		return err
	}
	g.prep.Ticks = ticks
	g.prep.Move = MoveDwell
	g.prepared++
	return nil
}

// PrepNull marks the prep buffer empty.
func (g *Generator) PrepNull() {
	g.prep.Move = MoveNull
}

func (g *Generator) prepMove(mv Move) error {
	switch mv.Type {
	case MoveLine:
		return g.PrepLine(mv.Steps, mv.Microseconds)
	case MoveDwell:
		return g.PrepDwell(mv.Microseconds)
	}
	g.PrepNull()
	return nil
}
