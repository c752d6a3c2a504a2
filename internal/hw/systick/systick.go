// Package systick provides the millisecond tick counter used for switch
// lockouts and motor idle timeouts.
package systick

import "time"

// Clock returns a free-running millisecond tick count. The counter wraps at
// 2^32; compare ticks with Before or Elapsed, never with < directly.
type Clock interface {
	Ticks() uint32
}

// Wall is a Clock derived from the monotonic wall clock.
type Wall struct {
	start time.Time
}

// NewWall returns a Clock whose tick 0 is now.
func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

func (w *Wall) Ticks() uint32 {
	return uint32(time.Since(w.start) / time.Millisecond)
}

// Manual is a Clock driven by tests.
type Manual struct {
	T uint32
}

func (m *Manual) Ticks() uint32 { return m.T }

// Advance moves the manual clock forward by n ticks.
func (m *Manual) Advance(n uint32) { m.T += n }

// Before reports whether tick a comes before tick b, accounting for wrap.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}
