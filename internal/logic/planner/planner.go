// Package planner is a constant-velocity segment planner. It queues lines
// and dwells as blocks and cuts each block into fixed-length segments for
// the pulse pipeline. There is no acceleration planning.
package planner

import (
	"math"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/logic/stepgen"
)

// Axes is the number of planned axes, one per motor.
const Axes = fiq.Motors

// ErrQueueFull is returned when no planner buffer is free.
var ErrQueueFull = errors.New("planner queue full")

// StepsPerUnit returns the steps per mm of motor m.
type StepsPerUnit func(m int) float64

type block struct {
	kind     stepgen.MoveType
	start    [Axes]int64
	target   [Axes]int64
	us       float64 // whole block duration
	segments int
	done     int
	line     int // source line, for reports
}

// Planner queues blocks and hands out segments.
type Planner struct {
	cfg    config.PlannerConfig
	spu    StepsPerUnit
	queue  []*block
	held   bool
	pos    [Axes]float64 // mm, end of the last queued block
	steps  [Axes]int64   // steps, end of the last queued block
	line   int
	queued uint64
}

// New creates an empty planner.
func New(cfg config.PlannerConfig, spu StepsPerUnit) *Planner {
	return &Planner{cfg: cfg, spu: spu}
}

// SetLine tags subsequently queued blocks with a source line number.
func (p *Planner) SetLine(n int) { p.line = n }

// BuffersAvailable returns the number of free planner buffers.
func (p *Planner) BuffersAvailable() int { return p.cfg.Buffers - len(p.queue) }

// Headroom is the free buffer count required before a new line is read.
func (p *Planner) Headroom() int { return p.cfg.Headroom }

// Queued returns the number of blocks waiting or running.
func (p *Planner) Queued() int { return len(p.queue) }

// Empty reports whether nothing is queued.
func (p *Planner) Empty() bool { return len(p.queue) == 0 }

// Position returns the planned position in mm.
func (p *Planner) Position() [Axes]float64 { return p.pos }

// CurrentLine returns the source line of the running block, 0 when idle.
func (p *Planner) CurrentLine() int {
	if len(p.queue) == 0 {
		return 0
	}
	return p.queue[0].line
}

// Total returns the number of blocks queued since start.
func (p *Planner) Total() uint64 { return p.queued }

// SetPosition redefines the current position without motion.
func (p *Planner) SetPosition(pos [Axes]float64) {
	p.pos = pos
	for m := range pos {
		p.steps[m] = int64(math.Round(pos[m] * p.spu(m)))
	}
}

func (p *Planner) push(b *block) error {
	if p.BuffersAvailable() <= 0 {
		return ErrQueueFull
	}
	b.line = p.line
	p.queue = append(p.queue, b)
	p.queued++
	return nil
}

// Line queues a straight move to target (mm) at feed (mm/min).
func (p *Planner) Line(target [Axes]float64, feed float64) error {
	if feed <= 0 || math.IsNaN(feed) || math.IsInf(feed, 0) {
		return errors.Errorf("invalid feed rate %v", feed)
	}
	var dist float64
	for m := range target {
		d := target[m] - p.pos[m]
		dist += d * d
	}
	dist = math.Sqrt(dist)

	b := &block{kind: stepgen.MoveLine, start: p.steps}
	for m := range target {
		b.target[m] = int64(math.Round(target[m] * p.spu(m)))
	}
	if b.target == b.start {
		p.pos = target
		return nil
	}
	b.us = dist / feed * 60e6
	b.segments = int(math.Ceil(b.us / p.cfg.SegmentUs))
	if b.segments < 1 {
		b.segments = 1
	}
	if err := p.push(b); err != nil {
		return err
	}
	p.pos = target
	p.steps = b.target
	return nil
}

// Dwell queues a pause of the given seconds.
func (p *Planner) Dwell(seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return errors.Errorf("invalid dwell time %v", seconds)
	}
	return p.push(&block{kind: stepgen.MoveDwell, start: p.steps, target: p.steps, us: seconds * 1e6, segments: 1})
}

// Hold stops handing out segments at the next segment boundary.
func (p *Planner) Hold() { p.held = true }

// Resume releases a hold.
func (p *Planner) Resume() { p.held = false }

// Held reports whether a hold is active.
func (p *Planner) Held() bool { return p.held }

// Flush drops every queued block. The planned position rewinds to where
// the pulse stream actually stopped.
func (p *Planner) Flush() {
	if len(p.queue) > 0 {
		b := p.queue[0]
		p.steps = b.stepsAt(b.done)
		for m := range p.pos {
			p.pos[m] = float64(p.steps[m]) / p.spu(m)
		}
	}
	p.queue = p.queue[:0]
	p.held = false
}

func (b *block) stepsAt(k int) [Axes]int64 {
	if b.kind != stepgen.MoveLine {
		return b.target
	}
	var out [Axes]int64
	for m := range out {
		d := b.target[m] - b.start[m]
		out[m] = b.start[m] + int64(math.Round(float64(d)*float64(k)/float64(b.segments)))
	}
	return out
}

// NextSegment implements stepgen.Source.
func (p *Planner) NextSegment() (stepgen.Move, bool) {
	if p.held || len(p.queue) == 0 {
		return stepgen.Move{}, false
	}
	b := p.queue[0]
	mv := stepgen.Move{Type: b.kind, Microseconds: b.us / float64(b.segments)}
	if b.kind == stepgen.MoveLine {
		from := b.stepsAt(b.done)
		to := b.stepsAt(b.done + 1)
		for m := range mv.Steps {
			mv.Steps[m] = float64(to[m] - from[m])
		}
	}
	b.done++
	if b.done >= b.segments {
		p.queue = p.queue[1:]
	}
	return mv, true
}
