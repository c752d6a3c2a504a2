package machine

import (
	"errors"
	"testing"

	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/logic/switches"
	"github.com/cjeanneret/StepGo/internal/stat"
)

type fakePlanner struct {
	held    bool
	queued  int
	flushes int
}

func (p *fakePlanner) Hold()       { p.held = true }
func (p *fakePlanner) Resume()     { p.held = false }
func (p *fakePlanner) Flush()      { p.queued = 0; p.flushes++ }
func (p *fakePlanner) Empty() bool { return p.queued == 0 }

type fakeRunner struct{ busy bool }

func (r *fakeRunner) Busy() bool { return r.busy }

func TestFeedholdAndCycleStart(t *testing.T) {
	p := &fakePlanner{queued: 3}
	m := New(p, &fakeRunner{})
	task := m.FeedholdTask()

	m.CycleStart()
	if m.State() != Cycle {
		t.Fatalf("state = %s, want cycle", m.State())
	}
	m.RequestFeedhold()
	if st := task.Tick(); st != stat.OK {
		t.Errorf("feedhold tick = %s", st)
	}
	if m.State() != Hold || !p.held {
		t.Fatalf("state = %s held = %v", m.State(), p.held)
	}
	m.RequestCycleStart()
	task.Tick()
	if m.State() != Cycle || p.held {
		t.Fatalf("state = %s held = %v after cycle start", m.State(), p.held)
	}
	if st := task.Tick(); st != stat.Noop {
		t.Errorf("idle tick = %s, want NOOP", st)
	}

	p.queued = 0
	task.Tick()
	if m.State() != Ready {
		t.Errorf("state = %s, want ready once drained", m.State())
	}
}

func TestFeedholdIgnoredWhenReady(t *testing.T) {
	p := &fakePlanner{}
	m := New(p, nil)
	m.RequestFeedhold()
	m.FeedholdTask().Tick()
	if m.State() != Ready || p.held {
		t.Errorf("state = %s held = %v", m.State(), p.held)
	}
}

func TestProgramEnd(t *testing.T) {
	p := &fakePlanner{queued: 1}
	r := &fakeRunner{busy: true}
	m := New(p, r)
	m.CycleStart()
	m.ProgramEnd()
	if m.State() != Cycle {
		t.Fatalf("program end must wait for motion, state = %s", m.State())
	}
	p.queued = 0
	m.FeedholdTask().Tick()
	if m.State() != Cycle {
		t.Fatalf("runner still busy, state = %s", m.State())
	}
	r.busy = false
	m.FeedholdTask().Tick()
	if m.State() != ProgramEnd {
		t.Errorf("state = %s, want end", m.State())
	}
	m.CycleStart()
	if m.State() != Cycle {
		t.Errorf("new motion after end: state = %s", m.State())
	}

	idle := New(&fakePlanner{}, nil)
	idle.ProgramEnd()
	if idle.State() != ProgramEnd {
		t.Errorf("idle program end: state = %s", idle.State())
	}
}

func TestAlarmAndReset(t *testing.T) {
	p := &fakePlanner{queued: 5}
	m := New(p, nil)
	alarm := m.AlarmTask()
	if st := alarm.Tick(); st != stat.Noop {
		t.Errorf("alarm task idle = %s", st)
	}
	m.Alarm(stat.MemoryFault("test"))
	if m.State() != Alarm || p.queued != 0 {
		t.Fatalf("state = %s queued = %d", m.State(), p.queued)
	}
	if !errors.Is(m.AlarmErr(), stat.ErrMemoryFault) {
		t.Errorf("alarm err = %v", m.AlarmErr())
	}
	if st := alarm.Tick(); st != stat.EAgain {
		t.Errorf("alarm task in alarm = %s, want EAGAIN", st)
	}
	m.CycleStart()
	if m.State() != Alarm {
		t.Error("motion must not leave the alarm state")
	}

	m.RequestReset()
	if !m.TakeReset() || m.TakeReset() {
		t.Fatal("reset request should be consumed exactly once")
	}
	m.Reset()
	if m.State() != Ready || m.AlarmErr() != nil {
		t.Errorf("after reset: state = %s err = %v", m.State(), m.AlarmErr())
	}
}

func TestLimitSwitchTripsAlarm(t *testing.T) {
	clock := &systick.Manual{}
	d := switches.New(clock, nil)
	d.Switch(0, switches.Max).Mode = switches.Limit
	d.Switch(1, switches.Min).Mode = switches.Homing

	p := &fakePlanner{queued: 2}
	m := New(p, nil)
	m.BindSwitches(d)

	// homing switch: feedhold on close
	m.CycleStart()
	d.ReadSwitch(1, switches.Min, 0)
	m.FeedholdTask().Tick()
	if m.State() != Hold {
		t.Fatalf("homing switch should hold, state = %s", m.State())
	}

	limit := m.LimitTask()
	if st := limit.Tick(); st != stat.Noop {
		t.Errorf("limit task idle = %s", st)
	}
	d.ReadSwitch(0, switches.Max, 0)
	if st := limit.Tick(); st != stat.OK {
		t.Errorf("limit task = %s, want OK", st)
	}
	if m.State() != Alarm || !errors.Is(m.AlarmErr(), ErrLimit) {
		t.Errorf("state = %s err = %v", m.State(), m.AlarmErr())
	}
}

func TestValidate(t *testing.T) {
	m := New(&fakePlanner{}, nil)
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	m.state.Store(99)
	if err := m.Validate(); !errors.Is(err, stat.ErrMemoryFault) {
		t.Errorf("err = %v", err)
	}
}
