package controller

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cjeanneret/StepGo/internal/config"
	"github.com/cjeanneret/StepGo/internal/debug"
	"github.com/cjeanneret/StepGo/internal/fiq"
	"github.com/cjeanneret/StepGo/internal/logic/report"
	"github.com/cjeanneret/StepGo/internal/logic/stepgen"
	"github.com/cjeanneret/StepGo/internal/logic/switches"
	"github.com/cjeanneret/StepGo/internal/stat"
)

// setting is one entry of the settings table. Motor settings are addressed
// with a motor number prefix: "1po" is the polarity of motor 1 (X).
type setting struct {
	key    string
	label  string
	get    func(c *Controller, m int) float64
	set    func(c *Controller, m int, v float64) error // nil: read only
	action func(c *Controller)                         // non-nil: a command, not a value
	format string
}

var motorSettings = []setting{
	{key: "po", label: "polarity", format: "%.0f",
		get: func(c *Controller, m int) float64 { return float64(c.gen.Motor(m).Polarity) },
		set: func(c *Controller, m int, v float64) error {
			if v != 0 && v != 1 {
				return errors.Wrapf(stat.ErrInputValue, "polarity must be 0 or 1, got %v", v)
			}
			c.gen.Motor(m).Polarity = uint8(v)
			return nil
		}},
	{key: "pm", label: "power mode (0=energized during cycle, 1=idle when stopped)", format: "%.0f",
		get: func(c *Controller, m int) float64 { return float64(c.gen.Motor(m).PowerMode) },
		set: func(c *Controller, m int, v float64) error {
			if v != float64(stepgen.EnergizedDuringCycle) && v != float64(stepgen.IdleWhenStopped) {
				return errors.Wrapf(stat.ErrInputValue, "power mode must be 0 or 1, got %v", v)
			}
			c.gen.SetPowerMode(m, stepgen.PowerMode(v))
			return nil
		}},
	{key: "mi", label: "microsteps", format: "%.0f",
		get: func(c *Controller, m int) float64 { return float64(c.gen.Motor(m).Microsteps) },
		set: func(c *Controller, m int, v float64) error {
			n := int(v)
			if float64(n) != v || n < 1 {
				return errors.Wrapf(stat.ErrInputValue, "microsteps must be a positive integer, got %v", v)
			}
			if !config.StandardMicrosteps(n) {
				debug.Warn("motor %s: non-standard microstep value %d", fiq.MotorNames[m], n)
			}
			return c.gen.SetMicrosteps(m, n)
		}},
	{key: "sa", label: "step angle", format: "%.3f",
		get: func(c *Controller, m int) float64 { return c.gen.Motor(m).StepAngle },
		set: func(c *Controller, m int, v float64) error {
			if !(v > 0) {
				return errors.Wrapf(stat.ErrInputValue, "step angle must be positive, got %v", v)
			}
			c.gen.Motor(m).StepAngle = v
			return nil
		}},
	{key: "tr", label: "travel per revolution", format: "%.3f",
		get: func(c *Controller, m int) float64 { return c.gen.Motor(m).TravelPerRev },
		set: func(c *Controller, m int, v float64) error {
			if !(v > 0) {
				return errors.Wrapf(stat.ErrInputValue, "travel per revolution must be positive, got %v", v)
			}
			c.gen.Motor(m).TravelPerRev = v
			return nil
		}},
	{key: "su", label: "steps per unit", format: "%.4f",
		get: func(c *Controller, m int) float64 { return c.gen.Motor(m).StepsPerUnit() }},
}

var globalSettings = []setting{
	{key: "mt", label: "motor idle timeout", format: "%.2f",
		get: func(c *Controller, _ int) float64 { return c.gen.Settings().IdleTimeout },
		set: func(c *Controller, _ int, v float64) error {
			c.gen.SetIdleTimeout(v)
			return nil
		}},
	{key: "me", label: "energize motors", action: func(c *Controller) { c.gen.EnergizeAll() }},
	{key: "md", label: "de-energize motors", action: func(c *Controller) { c.gen.DeenergizeAll() }},
	{key: "st", label: "switch type (0=normally open, 1=normally closed)", format: "%.0f",
		get: func(c *Controller, _ int) float64 { return float64(c.switches.Switch(0, switches.Min).Type) },
		set: func(c *Controller, _ int, v float64) error {
			if v != 0 && v != 1 {
				return errors.Wrapf(stat.ErrInputValue, "switch type must be 0 or 1, got %v", v)
			}
			c.switches.Each(func(_ int, _ switches.Position, s *switches.Switch) { s.Type = switches.Type(v) })
			return nil
		}},
	{key: "fr", label: "DDA frequency", format: "%.0f",
		get: func(c *Controller, _ int) float64 { return float64(c.gen.Settings().Frequency) }},
	{key: "ss", label: "DDA substeps", format: "%.0f",
		get: func(c *Controller, _ int) float64 { return float64(c.gen.Settings().Substeps) }},
}

// lookupSetting resolves a token to a table entry and a motor index (-1
// for global settings).
func lookupSetting(token string) (*setting, int, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if len(token) > 1 && token[0] >= '1' && token[0] <= '0'+fiq.Motors {
		m := int(token[0] - '1')
		for i := range motorSettings {
			if motorSettings[i].key == token[1:] {
				return &motorSettings[i], m, nil
			}
		}
	}
	for i := range globalSettings {
		if globalSettings[i].key == token {
			return &globalSettings[i], -1, nil
		}
	}
	return nil, 0, errors.Wrapf(stat.ErrUnsupported, "unknown setting %q", token)
}

func settingToken(s *setting, m int) string {
	if m < 0 {
		return s.key
	}
	return strconv.Itoa(m+1) + s.key
}

// allSettings lists every token in display order.
func allSettings() []string {
	var out []string
	for m := 0; m < fiq.Motors; m++ {
		for i := range motorSettings {
			out = append(out, settingToken(&motorSettings[i], m))
		}
	}
	for i := range globalSettings {
		if globalSettings[i].action == nil {
			out = append(out, globalSettings[i].key)
		}
	}
	return out
}

func (c *Controller) formatSetting(s *setting, m int) string {
	name := s.label
	if m >= 0 {
		name = fiq.MotorNames[m] + " " + name
	}
	return fmt.Sprintf("[%s] %-32s "+s.format, settingToken(s, m), name, s.get(c, m))
}

// applySetting runs an action, or sets a value when one is given.
func (c *Controller) applySetting(s *setting, m int, value *float64) error {
	if s.action != nil {
		s.action(c)
		debug.Verbose("%s", s.label)
		return nil
	}
	if value == nil {
		return nil
	}
	if s.set == nil {
		return errors.Wrapf(stat.ErrInputValue, "%s is read only", settingToken(s, m))
	}
	return s.set(c, m, *value)
}

// textParser handles '$' and '?' lines. "$" lists every setting, "$1po"
// shows one, "$1po=1" sets one, "$me" runs a command and "?" reports status.
func (c *Controller) textParser(line string) (string, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "?") {
		return strings.TrimRight(report.Format(c.reporter.Snapshot()), "\n"), nil
	}
	body := strings.TrimSpace(strings.TrimPrefix(line, "$"))
	if body == "" {
		var b strings.Builder
		for i, tok := range allSettings() {
			s, m, _ := lookupSetting(tok)
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(c.formatSetting(s, m))
		}
		return b.String(), nil
	}

	token, raw, hasValue := strings.Cut(body, "=")
	s, m, err := lookupSetting(token)
	if err != nil {
		return "", err
	}
	var value *float64
	if hasValue {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", errors.Wrapf(stat.ErrInputValue, "bad value %q", raw)
		}
		value = &v
	}
	if err := c.applySetting(s, m, value); err != nil {
		return "", err
	}
	if s.action != nil {
		return s.label, nil
	}
	return c.formatSetting(s, m), nil
}

// jsonResponse is the answer to a '{' line.
type jsonResponse struct {
	R      map[string]interface{} `json:"r,omitempty"`
	Status string                 `json:"status"`
	Msg    string                 `json:"msg,omitempty"`
}

// jsonParser handles '{' lines. {"1po":1} sets, {"1po":null} or
// {"1po":""} queries, {"me":true} runs a command and {"sr":null} returns
// a status report. Keys are applied in sorted order.
func (c *Controller) jsonParser(line string) jsonResponse {
	var req map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return jsonError(errors.Wrap(stat.ErrInputValue, "malformed JSON"))
	}
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resp := jsonResponse{R: map[string]interface{}{}, Status: "ok"}
	for _, k := range keys {
		raw := strings.TrimSpace(string(req[k]))
		if strings.ToLower(k) == "sr" {
			resp.R[k] = c.reporter.Snapshot()
			continue
		}
		s, m, err := lookupSetting(k)
		if err != nil {
			return jsonError(err)
		}
		var value *float64
		if s.action == nil && raw != "null" && raw != `""` {
			var v float64
			if err := json.Unmarshal(req[k], &v); err != nil {
				return jsonError(errors.Wrapf(stat.ErrInputValue, "%s: bad value %s", k, raw))
			}
			value = &v
		}
		if err := c.applySetting(s, m, value); err != nil {
			return jsonError(err)
		}
		if s.action != nil {
			resp.R[k] = true
			continue
		}
		resp.R[k] = s.get(c, m)
	}
	return resp
}

func jsonError(err error) jsonResponse {
	return jsonResponse{Status: "error", Msg: err.Error()}
}
