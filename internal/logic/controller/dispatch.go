package controller

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/debug"
)

const helpText = `StepGo commands
  G0/G1 X Y Z A B F   move (mm, mm/min)
  G4 P<seconds>       dwell
  G20/G21             inches / millimeters
  G90/G91             absolute / relative
  G92 X Y Z A B       set position
  M2/M30              program end
  $                   list settings
  $<token>            show a setting, e.g. $1po
  $<token>=<value>    change a setting, e.g. $1mi=16
  $me / $md           energize / de-energize all motors
  ?                   status report
  {"<token>":<value>} JSON settings, null queries
  H                   this help
  &                   exit`

// dispatch routes one command line on its first character.
func (c *Controller) dispatch(line string) {
	text := strings.TrimSpace(line)
	if text == "" {
		c.answer("", nil)
		return
	}
	switch first := text[0]; {
	case first == 'H' || first == 'h':
		c.answer(helpText, nil)
	case first == '$' || first == '?':
		c.answer(c.textParser(text))
	case first == '{':
		c.answerJSON(c.jsonParser(text))
	case first == '&':
		c.exit("exit requested")
	default:
		c.gcodeLine(text)
	}
}

// gcodeLine runs one G-code line and pushes the resulting segments through
// the pulse pipeline before the next line is read.
func (c *Controller) gcodeLine(text string) {
	if c.job != nil {
		c.planner.SetLine(c.job.line)
	}
	if err := c.interp.ExecuteLine(text); err != nil {
		c.answer("", errors.Wrapf(err, "%q", text))
		return
	}
	if c.planner.Held() {
		c.answer("", nil)
		return
	}
	if err := c.gen.RequestNextSegment(); err != nil {
		c.pipelineError(err)
		c.answer("", err)
		return
	}
	c.answer("", nil)
}

// answer reports the outcome of a line. Console lines get a text answer
// ending in "ok>" or "error: ..."; job lines only log their errors.
func (c *Controller) answer(out string, err error) {
	if c.job != nil {
		if err != nil {
			c.job.log.Error(errors.Wrapf(err, "line %d", c.job.line))
		} else if out != "" {
			debug.Verbose("%s", out)
		}
		return
	}
	if err != nil {
		c.respond("error: %v\n", err)
		return
	}
	if out != "" {
		c.respond("%s\n", out)
	}
	c.respond("ok>\n")
}

func (c *Controller) answerJSON(r jsonResponse) {
	data, err := json.Marshal(r)
	if err != nil {
		c.answer("", errors.Wrap(err, "encode JSON response"))
		return
	}
	if c.job != nil {
		if r.Status != "ok" {
			c.job.log.Error(errors.Errorf("line %d: %s", c.job.line, r.Msg))
		}
		return
	}
	c.respond("%s\n", data)
}
