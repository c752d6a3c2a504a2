// Package report publishes periodic status reports and queue reports.
//
// The reporter keeps the last status snapshot so other goroutines (the web
// server) can read it without touching the control loop state.
package report

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Report kinds passed to a Publisher.
const (
	KindStatus = "status"
	KindQueue  = "queue"
)

// Publisher receives reports. The web broadcaster implements it.
type Publisher interface {
	Publish(kind string, v interface{})
}

// Status is a point-in-time view of the machine.
type Status struct {
	Time      string              `json:"time"`
	State     string              `json:"state"`
	Alarm     string              `json:"alarm,omitempty"`
	Intake    string              `json:"intake"`
	Job       string              `json:"job,omitempty"`
	Line      int                 `json:"line"`
	Lines     int                 `json:"lines"`
	Position  [fiq.Motors]float64 `json:"position"`
	Queued    int                 `json:"queued"`
	Available int                 `json:"available"`
	Held      bool                `json:"held"`
	Token     string              `json:"token"`
	Power     [fiq.Motors]string  `json:"power"`
	Steps     [fiq.Motors]uint64  `json:"steps"`
	Records   uint64              `json:"records"`
	Switches  []string            `json:"switches"`
}

// Queue reports planner buffer usage.
type Queue struct {
	Queued    int `json:"queued"`
	Available int `json:"available"`
}

// Reporter builds and publishes reports.
type Reporter struct {
	clock    systick.Clock
	interval uint32
	pub      Publisher
	status   func() Status
	queue    func() Queue

	next      uint32
	armed     bool
	forced    bool
	lastQueue Queue
	queueSent bool

	mu   sync.RWMutex
	last Status
}

// New creates a reporter. status and queue build the snapshots; pub may be
// nil, in which case snapshots are only kept for Last.
func New(clock systick.Clock, interval time.Duration, pub Publisher, status func() Status, queue func() Queue) *Reporter {
	ms := uint32(interval / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return &Reporter{clock: clock, interval: ms, pub: pub, status: status, queue: queue}
}

// SetPublisher replaces the publisher.
func (r *Reporter) SetPublisher(p Publisher) { r.pub = p }

// RequestStatus makes the next status tick report regardless of the interval.
func (r *Reporter) RequestStatus() { r.forced = true }

// Last returns the most recent status snapshot. Safe from any goroutine.
func (r *Reporter) Last() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Snapshot builds a status now, stores it and returns it without publishing.
func (r *Reporter) Snapshot() Status {
	s := r.status()
	s.Time = time.Now().Format(time.RFC3339)
	r.mu.Lock()
	r.last = s
	r.mu.Unlock()
	return s
}

func (r *Reporter) publish(kind string, v interface{}) {
	if r.pub != nil {
		r.pub.Publish(kind, v)
	}
}

// StatusTask publishes a status report every interval.
type StatusTask struct{ r *Reporter }

// StatusTask returns the scheduler task for status reports.
func (r *Reporter) StatusTask() *StatusTask { return &StatusTask{r: r} }

func (t *StatusTask) Tick() stat.Status {
	r := t.r
	now := r.clock.Ticks()
	if r.armed && !r.forced && systick.Before(now, r.next) {
		return stat.Noop
	}
	r.armed = true
	r.forced = false
	r.next = now + r.interval
	r.publish(KindStatus, r.Snapshot())
	return stat.OK
}

// QueueTask publishes a queue report whenever the buffer usage changes.
type QueueTask struct{ r *Reporter }

// QueueTask returns the scheduler task for queue reports.
func (r *Reporter) QueueTask() *QueueTask { return &QueueTask{r: r} }

func (t *QueueTask) Tick() stat.Status {
	r := t.r
	if r.queue == nil {
		return stat.Noop
	}
	q := r.queue()
	if r.queueSent && q == r.lastQueue {
		return stat.Noop
	}
	r.lastQueue = q
	r.queueSent = true
	r.publish(KindQueue, q)
	return stat.OK
}

// Format renders a status as the text answer to a '?' command.
func Format(s Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state:     %s\n", s.State)
	if s.Alarm != "" {
		fmt.Fprintf(&b, "alarm:     %s\n", s.Alarm)
	}
	fmt.Fprintf(&b, "intake:    %s\n", s.Intake)
	if s.Job != "" {
		fmt.Fprintf(&b, "job:       %s line %d/%d\n", s.Job, s.Line, s.Lines)
	}
	for m, name := range fiq.MotorNames {
		fmt.Fprintf(&b, "%s:         %.3f mm  %d steps  %s\n", name, s.Position[m], s.Steps[m], s.Power[m])
	}
	fmt.Fprintf(&b, "queue:     %d queued, %d available", s.Queued, s.Available)
	if s.Held {
		b.WriteString(" (held)")
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "records:   %d\n", s.Records)
	if len(s.Switches) > 0 {
		fmt.Fprintf(&b, "switches:  %s\n", strings.Join(s.Switches, " "))
	}
	return b.String()
}
