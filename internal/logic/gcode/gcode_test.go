package gcode

import (
	"errors"
	"testing"

	"github.com/cjeanneret/StepGo/internal/stat"
)

func TestParse(t *testing.T) {
	cases := []struct {
		line   string
		typ    byte
		num    int
		params map[byte]float64
	}{
		{"G1 X10 Y-5.5 F600", 'G', 1, map[byte]float64{'X': 10, 'Y': -5.5, 'F': 600}},
		{"g0x1.5z.25", 'G', 0, map[byte]float64{'X': 1.5, 'Z': 0.25}},
		{"N42 G4 P0.5 ; wait", 'G', 4, map[byte]float64{'P': 0.5}},
		{"M30", 'M', 30, map[byte]float64{}},
		{"  F1200", 0, 0, map[byte]float64{'F': 1200}},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			cmd, err := Parse(tc.line)
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Type != tc.typ || cmd.Number != tc.num {
				t.Errorf("got %c%d, want %c%d", cmd.Type, cmd.Number, tc.typ, tc.num)
			}
			if len(cmd.Parameters) != len(tc.params) {
				t.Fatalf("params = %v, want %v", cmd.Parameters, tc.params)
			}
			for k, v := range tc.params {
				if cmd.Parameters[k] != v {
					t.Errorf("%c = %v, want %v", k, cmd.Parameters[k], v)
				}
			}
		})
	}
}

func TestParse_BlankAndComment(t *testing.T) {
	for _, line := range []string{"", "   ", "; just a comment", "(setup)"} {
		cmd, err := Parse(line)
		if err != nil || cmd != nil {
			t.Errorf("Parse(%q) = %v, %v; want nil, nil", line, cmd, err)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	for _, line := range []string{"G1 X", "G1 X1 #", "G1 X.", "G1 X--1"} {
		if _, err := Parse(line); !errors.Is(err, stat.ErrInputValue) {
			t.Errorf("Parse(%q) err = %v, want ErrInputValue", line, err)
		}
	}
}

type fakePlanner struct {
	pos    [Axes]float64
	lines  []line
	dwells []float64
}

type line struct {
	target [Axes]float64
	feed   float64
}

func (p *fakePlanner) Line(target [Axes]float64, feed float64) error {
	p.lines = append(p.lines, line{target, feed})
	p.pos = target
	return nil
}

func (p *fakePlanner) Dwell(s float64) error {
	p.dwells = append(p.dwells, s)
	return nil
}

func (p *fakePlanner) Position() [Axes]float64 { return p.pos }

func (p *fakePlanner) SetPosition(pos [Axes]float64) { p.pos = pos }

type fakeMachine struct {
	starts, ends int
}

func (m *fakeMachine) CycleStart() { m.starts++ }
func (m *fakeMachine) ProgramEnd() { m.ends++ }

func run(t *testing.T, in *Interpreter, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if err := in.ExecuteLine(l); err != nil {
			t.Fatalf("%q: %v", l, err)
		}
	}
}

func TestInterpreter_Moves(t *testing.T) {
	p := &fakePlanner{}
	m := &fakeMachine{}
	in := NewInterpreter(p, m, 600, 1200)

	run(t, in,
		"G1 X10 F300",
		"G91",
		"G1 Y5",
		"G0 X-2",
		"G20",
		"G90",
		"G1 Z1",
	)
	want := []line{
		{[Axes]float64{10}, 300},
		{[Axes]float64{10, 5}, 300},
		{[Axes]float64{8, 5}, 1200},
	}
	if len(p.lines) != 4 {
		t.Fatalf("lines = %+v", p.lines)
	}
	for i, w := range want {
		if p.lines[i] != w {
			t.Errorf("line %d = %+v, want %+v", i, p.lines[i], w)
		}
	}
	// absolute inches
	if got := p.lines[3].target[2]; got != 25.4 {
		t.Errorf("Z = %v, want 25.4", got)
	}
	if m.starts != 4 {
		t.Errorf("cycle starts = %d, want 4", m.starts)
	}
}

func TestInterpreter_DwellAndEnd(t *testing.T) {
	p := &fakePlanner{}
	m := &fakeMachine{}
	in := NewInterpreter(p, m, 600, 1200)

	run(t, in, "G91", "G4 P1.5", "M2")
	if len(p.dwells) != 1 || p.dwells[0] != 1.5 {
		t.Errorf("dwells = %v", p.dwells)
	}
	if m.ends != 1 {
		t.Errorf("program ends = %d", m.ends)
	}
	if !in.State().Absolute {
		t.Error("M2 should restore absolute mode")
	}
	if err := in.ExecuteLine("G4"); !errors.Is(err, stat.ErrInputValue) {
		t.Errorf("G4 without P: err = %v", err)
	}
}

func TestInterpreter_SetPosition(t *testing.T) {
	p := &fakePlanner{pos: [Axes]float64{3, 4}}
	in := NewInterpreter(p, &fakeMachine{}, 600, 1200)
	run(t, in, "G92 X0")
	if p.pos != ([Axes]float64{0, 4}) {
		t.Errorf("position = %v", p.pos)
	}
}

func TestInterpreter_Unsupported(t *testing.T) {
	in := NewInterpreter(&fakePlanner{}, &fakeMachine{}, 600, 1200)
	for _, l := range []string{"G28", "M104 S200", "X10"} {
		if err := in.ExecuteLine(l); !errors.Is(err, stat.ErrUnsupported) {
			t.Errorf("%q: err = %v, want ErrUnsupported", l, err)
		}
	}
	if err := in.ExecuteLine("F900"); err != nil {
		t.Errorf("feed-only line: %v", err)
	}
	if in.State().Feed != 900 {
		t.Errorf("feed = %v, want 900", in.State().Feed)
	}
}
