// Package controller runs the command loop: a cooperative scheduler over a
// fixed task list, the command intake state machine and line dispatch.
//
// Everything in here runs on one goroutine. Other goroutines talk to the
// loop only through the machine's latched requests and the reporter's last
// snapshot.
package controller

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/compress"
	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/hw/gpio"
	"github.com/cjeanneret/StepGo/internal/hw/systick"
	"github.com/cjeanneret/StepGo/internal/logic/gcode"
	"github.com/cjeanneret/StepGo/internal/logic/machine"
	"github.com/cjeanneret/StepGo/internal/logic/planner"
	"github.com/cjeanneret/StepGo/internal/logic/report"
	"github.com/cjeanneret/StepGo/internal/logic/stepgen"
	"github.com/cjeanneret/StepGo/internal/logic/switches"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Hardware is what the controller drives. Any field may be nil: no GPIO
// means no switch polling, no Motors means no enable or microstep pins.
type Hardware struct {
	GPIO   gpio.Driver
	Motors stepgen.MotorDriver
	Clock  systick.Clock
}

// Options tune the controller's surroundings.
type Options struct {
	Console   io.Reader            // interactive input; nil exits at the prompt
	Response  io.Writer            // command answers; nil discards them
	Publisher report.Publisher     // status and queue reports
	Chunks    compress.ChunkPolicy // compressor read sizes; nil is seeded random
}

// Controller owns every component of the control loop.
type Controller struct {
	cfg   *config.Config
	clock systick.Clock
	sched *Scheduler

	machine  *machine.Machine
	planner  *planner.Planner
	gen      *stepgen.Generator
	switches *switches.Debouncer
	interp   *gcode.Interpreter
	reporter *report.Reporter

	intake  Intake
	input   string
	job     *job
	console *console
	resp    io.Writer
	chunks  compress.ChunkPolicy
	ctx     context.Context
	wake    chan struct{}
}

// New builds the control loop from cfg.
func New(cfg *config.Config, hw Hardware, opts Options) (*Controller, error) {
	if hw.Clock == nil {
		hw.Clock = systick.NewWall()
	}
	c := &Controller{
		cfg:    cfg,
		clock:  hw.Clock,
		input:  cfg.Input,
		resp:   opts.Response,
		chunks: opts.Chunks,
		ctx:    context.Background(),
		wake:   make(chan struct{}, 1),
	}
	if c.resp == nil {
		c.resp = io.Discard
	}
	if c.chunks == nil {
		c.chunks = compress.RandomChunks(time.Now().UnixNano())
	}
	if opts.Console != nil {
		c.console = newConsole(opts.Console)
	}

	set := stepgen.SettingsFromConfig(cfg)
	c.planner = planner.New(cfg.Planner, func(m int) float64 { return c.gen.Motor(m).StepsPerUnit() })
	c.gen = stepgen.New(set, c.planner, hw.Motors, hw.Clock)
	c.machine = machine.New(c.planner, c.gen)

	sw, err := switches.FromConfig(cfg.Switches, hw.GPIO, hw.Clock, c.machine)
	if err != nil {
		return nil, errors.Wrap(err, "switches")
	}
	c.machine.BindSwitches(sw)
	c.switches = sw

	c.interp = gcode.NewInterpreter(c.planner, c.machine, cfg.Planner.DefaultFeed, cfg.Planner.RapidFeed)
	c.reporter = report.New(hw.Clock, cfg.StatusInterval(), opts.Publisher, c.status, c.queue)

	if hw.Motors != nil {
		for m := range set.Motors {
			if err := c.gen.SetMicrosteps(m, set.Motors[m].Microsteps); err != nil {
				return nil, errors.Wrapf(err, "program microsteps of motor %d", m+1)
			}
		}
	}

	c.sched = c.tasks()
	return c, nil
}

// tasks lays out the pass in priority order.
func (c *Controller) tasks() *Scheduler {
	s := NewScheduler()
	s.Add("reset", TaskFunc(c.resetTask))
	s.Add("alarm", c.machine.AlarmTask())
	s.Add("switches", c.switches.PollTask())
	s.Add("limit", c.machine.LimitTask())
	s.Add("feedhold", c.machine.FeedholdTask())
	s.Add("assertions", TaskFunc(c.assertionsTask))
	s.Add("power", c.gen.PowerTask())
	s.Add("status", c.reporter.StatusTask())
	s.Add("queue", c.reporter.QueueTask())
	s.Add("sync", TaskFunc(c.syncTask))
	s.Add("dispatch", TaskFunc(c.dispatchTask))
	s.Add("idle", TaskFunc(c.idleTask))
	return s
}

// Run drives the scheduler until '&', end of console input or ctx is done.
// An open job is closed on the way out.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	debug.Info("controller running, tasks: %v", c.sched.Names())
	err := c.sched.Run(ctx)
	if c.job != nil {
		if cerr := c.closeJob(); cerr != nil {
			debug.Error(cerr)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Scheduler exposes the task list, mainly for tests.
func (c *Controller) Scheduler() *Scheduler { return c.sched }

// Machine returns the machine state, for request forwarding.
func (c *Controller) Machine() *machine.Machine { return c.machine }

// Reporter returns the status reporter.
func (c *Controller) Reporter() *report.Reporter { return c.reporter }

// Intake returns the command intake state.
func (c *Controller) Intake() Intake { return c.intake }

// Wake interrupts a prompt wait so latched requests get serviced.
// Safe from any goroutine.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// RequestReset asks the loop to clear an alarm. Safe from any goroutine.
func (c *Controller) RequestReset() {
	c.machine.RequestReset()
	c.Wake()
}

// RequestFeedhold asks the loop to pause motion. Safe from any goroutine.
func (c *Controller) RequestFeedhold() {
	c.machine.RequestFeedhold()
	c.Wake()
}

// RequestCycleStart asks the loop to resume motion. Safe from any goroutine.
func (c *Controller) RequestCycleStart() {
	c.machine.RequestCycleStart()
	c.Wake()
}

// resetTask services a reset request ahead of the alarm idler.
func (c *Controller) resetTask() stat.Status {
	if !c.machine.TakeReset() {
		return stat.Noop
	}
	if c.job != nil {
		c.abortJob(errors.New("reset"))
	}
	c.gen.Reset()
	c.machine.Reset()
	if err := c.Validate(); err != nil {
		c.machine.Alarm(err)
		return stat.EAgain
	}
	return stat.OK
}

// assertionsTask raises an alarm when a core structure is inconsistent.
func (c *Controller) assertionsTask() stat.Status {
	if err := c.Validate(); err != nil {
		c.machine.Alarm(err)
		return stat.EAgain
	}
	return stat.Noop
}

// Validate checks the controller and every component it owns.
func (c *Controller) Validate() error {
	if c.intake > IntakeExit {
		return stat.MemoryFault("controller: bad intake state %d", c.intake)
	}
	if err := c.machine.Validate(); err != nil {
		return err
	}
	if err := c.gen.Validate(); err != nil {
		return err
	}
	return c.switches.Validate()
}

// syncTask keeps the pipeline fed and holds back intake until the planner
// has headroom for another line.
func (c *Controller) syncTask() stat.Status {
	st := stat.Noop
	if !c.planner.Empty() && !c.planner.Held() {
		if err := c.gen.RequestNextSegment(); err != nil {
			c.pipelineError(err)
			return stat.Error
		}
		st = stat.OK
	}
	if c.planner.BuffersAvailable() < c.planner.Headroom() {
		return stat.EAgain
	}
	return st
}

func (c *Controller) idleTask() stat.Status {
	return stat.Noop
}

// pipelineError handles an error out of the pulse pipeline: output
// failures end the job, anything else is an alarm.
func (c *Controller) pipelineError(err error) {
	if errors.Is(err, stat.ErrIOFailure) {
		c.abortJob(err)
		return
	}
	c.machine.Alarm(err)
}

func (c *Controller) respond(format string, args ...interface{}) {
	fmt.Fprintf(c.resp, format, args...)
}

// status builds a report snapshot. Runs on the control loop.
func (c *Controller) status() report.Status {
	snap := c.gen.Snapshot()
	s := report.Status{
		State:     c.machine.State().String(),
		Intake:    c.intake.String(),
		Position:  c.planner.Position(),
		Queued:    c.planner.Queued(),
		Available: c.planner.BuffersAvailable(),
		Held:      c.planner.Held(),
		Token:     snap.Token.String(),
		Steps:     snap.Steps,
		Records:   snap.Records,
		Switches:  c.switches.Closed(),
	}
	if err := c.machine.AlarmErr(); err != nil {
		s.Alarm = err.Error()
	}
	for m, p := range snap.Power {
		s.Power[m] = p.String()
	}
	if c.job != nil {
		s.Job = c.job.id.String()
		s.Line = c.job.line
		s.Lines = c.job.lines
	}
	return s
}

func (c *Controller) queue() report.Queue {
	return report.Queue{Queued: c.planner.Queued(), Available: c.planner.BuffersAvailable()}
}
