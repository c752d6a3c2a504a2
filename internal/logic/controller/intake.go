package controller

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/multierr"

	"github.com/cjeanneret/StepGo/internal/compress"
	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// Intake is the command intake state.
type Intake uint8

const (
	IntakeNotConnected Intake = iota // no source opened yet
	IntakeWorking                    // reading a job file
	IntakePrompt                     // reading the console
	IntakeExit                       // the loop is stopping
)

var intakeNames = [...]string{"not_connected", "working", "prompt", "exit"}

func (s Intake) String() string {
	if int(s) < len(intakeNames) {
		return intakeNames[s]
	}
	return "unknown"
}

// job is an open G-code file and its pulse record output.
type job struct {
	id      uuid.UUID
	path    string
	in      *os.File
	rd      *bufio.Reader
	sink    io.WriteCloser
	out     string // final output path
	temp    string // uncompressed stream when compressing
	line    int
	lines   int
	started time.Time
	log     debug.Entry
}

// console turns a blocking reader into a line channel so the prompt can
// also wait on ctx and on wake-ups.
type console struct {
	lines chan string
	err   error // valid once lines is closed
}

func newConsole(r io.Reader) *console {
	c := &console{lines: make(chan string)}
	go func() {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				c.lines <- strings.TrimRight(line, "\r\n")
			}
			if err != nil {
				if err != io.EOF {
					c.err = err
				}
				close(c.lines)
				return
			}
		}
	}()
	return c
}

func (c *Controller) setIntake(s Intake) {
	if c.intake != s {
		debug.Verbose("intake: %s -> %s", c.intake, s)
	}
	c.intake = s
}

// exit stops the loop after the current pass.
func (c *Controller) exit(reason string) {
	debug.Info("exit: %s", reason)
	c.setIntake(IntakeExit)
	c.sched.Exit()
}

// dispatchTask reads one line from the active source and dispatches it.
func (c *Controller) dispatchTask() stat.Status {
	switch c.intake {
	case IntakeNotConnected:
		return c.connect()
	case IntakeWorking:
		return c.readJobLine()
	case IntakePrompt:
		return c.readPrompt()
	}
	return stat.Noop
}

// connect opens the configured job, or falls through to the prompt when
// there is none. A job that cannot be opened is reported and dropped.
func (c *Controller) connect() stat.Status {
	if c.input == "" {
		c.setIntake(IntakePrompt)
		return stat.OK
	}
	path := c.input
	c.input = ""
	if err := c.openJob(path); err != nil {
		debug.Error(err)
		c.respond("error: %v\n", err)
		c.setIntake(IntakePrompt)
		return stat.Error
	}
	c.setIntake(IntakeWorking)
	return stat.OK
}

// sinkConfig maps the output settings onto a record sink.
func sinkConfig(out config.OutputConfig) fiq.SinkConfig {
	switch out.Kind {
	case config.OutputSerial:
		return fiq.SinkConfig{Kind: fiq.SinkSerial, Path: out.Serial.Device, Baud: out.Serial.Baud}
	case config.OutputFIQ:
		return fiq.SinkConfig{Kind: fiq.SinkDevice, Path: out.Path}
	}
	return fiq.SinkConfig{Kind: fiq.SinkFile, Path: out.Path}
}

func (c *Controller) openJob(path string) error {
	lines, err := countLines(path)
	if err != nil {
		return errors.Wrap(stat.ErrIOFailure, err.Error())
	}
	in, err := os.Open(path)
	if err != nil {
		return errors.Wrap(stat.ErrIOFailure, err.Error())
	}

	out := c.cfg.Output
	sc := sinkConfig(out)
	temp := ""
	if out.Compress {
		temp = out.TempPath
		sc = fiq.SinkConfig{Kind: fiq.SinkFile, Path: temp}
	}
	sink, err := fiq.OpenSink(sc)
	if err != nil {
		in.Close()
		return errors.Wrap(stat.ErrIOFailure, err.Error())
	}

	id := uuid.NewV4()
	j := &job{
		id:      id,
		path:    path,
		in:      in,
		rd:      bufio.NewReader(in),
		sink:    sink,
		out:     out.Path,
		temp:    temp,
		lines:   lines,
		started: time.Now(),
		log:     debug.With(debug.Fields{"job": id.String()}),
	}
	c.planner.Flush()
	c.gen.SetOutput(sink)
	c.job = j
	j.log.Info("job %s opened: %d lines -> %s %s", path, lines, sc.Kind, sc.Path)
	c.reporter.RequestStatus()
	return nil
}

// readJobLine dispatches the next job line. At end of file the job is
// closed once queued motion has run.
func (c *Controller) readJobLine() stat.Status {
	j := c.job
	line, err := j.rd.ReadString('\n')
	if line == "" && err != nil {
		if err != io.EOF {
			err = errors.Wrap(stat.ErrIOFailure, err.Error())
			c.abortJob(err)
			c.respond("error: %v\n", err)
			return stat.Error
		}
		if !c.planner.Empty() {
			return stat.EAgain
		}
		if err := c.closeJob(); err != nil {
			debug.Error(err)
			c.respond("error: %v\n", err)
			return stat.Error
		}
		return stat.OK
	}
	j.line++
	if every := c.cfg.Controller.LineProgressEvery; every > 0 && j.line%every == 0 {
		j.log.Info("line %d of %d", j.line, j.lines)
	}
	c.dispatch(strings.TrimRight(line, "\r\n"))
	return stat.OK
}

// readPrompt blocks until the console has a line. This is the one place
// the loop waits.
func (c *Controller) readPrompt() stat.Status {
	if c.console == nil {
		c.exit("no console")
		return stat.OK
	}
	select {
	case line, ok := <-c.console.lines:
		if !ok {
			if c.console.err != nil {
				debug.Error(errors.Wrap(c.console.err, "console"))
			}
			c.exit("end of console input")
			return stat.OK
		}
		c.dispatch(line)
		return stat.OK
	case <-c.wake:
		return stat.Noop
	case <-c.ctx.Done():
		return stat.Noop
	}
}

// closeJob writes the trailer, closes the job's files and compresses the
// output when asked to. The intake returns to the prompt.
func (c *Controller) closeJob() error {
	j := c.job
	c.job = nil
	c.setIntake(IntakePrompt)

	result := c.gen.Flush()
	snap := c.gen.Snapshot()
	c.gen.SetOutput(nil)
	result = multierr.Append(result, j.in.Close())
	if err := j.sink.Close(); err != nil {
		result = multierr.Append(result, errors.Wrap(stat.ErrIOFailure, err.Error()))
	}
	if j.temp != "" {
		if result == nil {
			st, err := compress.File(j.temp, j.out, c.chunks)
			if err != nil {
				result = errors.Wrap(stat.ErrIOFailure, err.Error())
			} else {
				j.log.Info("saved %d bytes in compression (%d -> %d in %d chunks)", st.Saved(), st.In, st.Out, st.Chunks)
			}
		}
		os.Remove(j.temp)
	}
	j.log.Info("job complete: %d lines, %d records, steps %v in %s",
		j.line, snap.Records, snap.Steps, time.Since(j.started).Round(time.Millisecond))
	c.reporter.RequestStatus()
	return result
}

// abortJob ends the current job after a failure.
func (c *Controller) abortJob(cause error) {
	j := c.job
	if j == nil {
		return
	}
	j.log.Error(errors.Wrapf(cause, "job aborted at line %d", j.line))
	c.planner.Flush()
	if err := c.closeJob(); err != nil {
		debug.Error(err)
	}
}

// countLines returns the number of lines in the file at path.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}
