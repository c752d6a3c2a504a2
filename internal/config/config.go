package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/StepGo/internal/fiq"
)

// Motor power modes.
const (
	PowerEnergizedDuringCycle = "energized_during_cycle"
	PowerIdleWhenStopped      = "idle_when_stopped"
)

// Switch types and modes.
const (
	SwitchNormallyOpen   = "no"
	SwitchNormallyClosed = "nc"

	SwitchDisabled    = "disabled"
	SwitchHoming      = "homing"
	SwitchLimit       = "limit"
	SwitchHomingLimit = "homing_limit"
)

// Output sink kinds.
const (
	OutputFile   = "file"
	OutputSerial = "serial"
	OutputFIQ    = "fiq"
)

// Idle timeout bounds in seconds.
const (
	IdleTimeoutMin = 0.1
	IdleTimeoutMax = 4294967.0
)

// DDAConfig sets the pulse generator timing.
type DDAConfig struct {
	Frequency   uint32 `yaml:"frequency"`    // DDA ticks per second
	Substeps    uint32 `yaml:"substeps"`     // fixed-point scale of phase increments
	ResetFactor uint32 `yaml:"reset_factor"` // anti-stall accumulator reset threshold
}

// MotorConfig holds the configuration for one stepper motor.
type MotorConfig struct {
	Polarity     int     `yaml:"polarity"`       // 0=normal, 1=reverse
	PowerMode    string  `yaml:"power_mode"`     // energized_during_cycle | idle_when_stopped
	Microsteps   int     `yaml:"microsteps"`     // 1,2,4,8,16
	StepAngle    float64 `yaml:"step_angle"`     // degrees per full step
	TravelPerRev float64 `yaml:"travel_per_rev"` // mm per motor revolution
	EnablePin    int     `yaml:"enable_pin"`     // BCM pin, 0 = not wired. Active LOW.
	MSPins       []int   `yaml:"ms_pins"`        // MS0, MS1, MS2 (optional)
}

// SwitchConfig describes one homing/limit input.
type SwitchConfig struct {
	Pin  int    `yaml:"pin"`
	Mode string `yaml:"mode"` // disabled | homing | limit | homing_limit
	Type string `yaml:"type"` // optional override of the global type
}

// AxisSwitches holds the min and max switch of one axis.
type AxisSwitches struct {
	Min SwitchConfig `yaml:"min"`
	Max SwitchConfig `yaml:"max"`
}

// SwitchesConfig holds global switch settings and the per-axis inputs.
type SwitchesConfig struct {
	Type       string         `yaml:"type"`        // no | nc
	DebounceMs uint32         `yaml:"debounce_ms"` // lockout window after an accepted edge
	Axes       []AxisSwitches `yaml:"axes"`
}

// PlannerConfig sizes the segment queue.
type PlannerConfig struct {
	Buffers     int     `yaml:"buffers"`      // planner queue depth
	Headroom    int     `yaml:"headroom"`     // free buffers required before reading a line
	SegmentUs   float64 `yaml:"segment_us"`   // nominal segment duration
	DefaultFeed float64 `yaml:"default_feed"` // mm/min used until an F word is seen
	RapidFeed   float64 `yaml:"rapid_feed"`   // mm/min for G0
}

// ControllerConfig tunes the command loop and reporters.
type ControllerConfig struct {
	StatusIntervalMs  int `yaml:"status_interval_ms"`
	LineProgressEvery int `yaml:"line_progress_every"`
}

// SerialConfig describes a serial pulse sink.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// OutputConfig selects where pulse records go.
type OutputConfig struct {
	Kind     string       `yaml:"kind"` // file | serial | fiq
	Path     string       `yaml:"path"` // file path or FIQ device node
	Serial   SerialConfig `yaml:"serial"`
	Compress bool         `yaml:"compress"`
	TempPath string       `yaml:"temp_path"` // uncompressed stream while compressing
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	DDA              DDAConfig        `yaml:"dda"`
	Motors           []MotorConfig    `yaml:"motors"`
	MotorIdleTimeout float64          `yaml:"motor_idle_timeout"` // seconds
	Switches         SwitchesConfig   `yaml:"switches"`
	Planner          PlannerConfig    `yaml:"planner"`
	Controller       ControllerConfig `yaml:"controller"`
	Input            string           `yaml:"input"` // G-code job, empty = interactive only
	Output           OutputConfig     `yaml:"output"`
	Defaults         DefaultsConfig   `yaml:"defaults"`

	// Warnings collects non-fatal findings from Load (non-standard microsteps...).
	Warnings []string `yaml:"-"`
}

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// ValidateConfigPath accepts only .yaml files located directly in a
// configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return errors.Errorf("config file must have a .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return errors.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat config file")
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, errors.Errorf("config file too large (%d bytes, max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration: five motors, no switches wired,
// file output.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.finish(); err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) finish() error {
	if c.DDA.Frequency == 0 {
		c.DDA.Frequency = 1000000
	}
	if c.DDA.Substeps == 0 {
		c.DDA.Substeps = 100000
	}
	if c.DDA.ResetFactor == 0 {
		c.DDA.ResetFactor = 2
	}

	if len(c.Motors) > fiq.Motors {
		return errors.Errorf("at most %d motors are supported, got %d", fiq.Motors, len(c.Motors))
	}
	for len(c.Motors) < fiq.Motors {
		c.Motors = append(c.Motors, MotorConfig{})
	}
	for i := range c.Motors {
		if err := c.finishMotor(i); err != nil {
			return err
		}
	}

	if c.MotorIdleTimeout == 0 {
		c.MotorIdleTimeout = 2
	}
	c.MotorIdleTimeout = ClampIdleTimeout(c.MotorIdleTimeout)

	if err := c.finishSwitches(); err != nil {
		return err
	}

	if c.Planner.Buffers <= 0 {
		c.Planner.Buffers = 28
	}
	if c.Planner.Headroom <= 0 {
		c.Planner.Headroom = 4
	}
	if c.Planner.Headroom >= c.Planner.Buffers {
		return errors.Errorf("planner.headroom (%d) must be smaller than planner.buffers (%d)", c.Planner.Headroom, c.Planner.Buffers)
	}
	if c.Planner.SegmentUs <= 0 {
		c.Planner.SegmentUs = 5000
	}
	if c.Planner.DefaultFeed <= 0 {
		c.Planner.DefaultFeed = 600
	}
	if c.Planner.RapidFeed <= 0 {
		c.Planner.RapidFeed = 1200
	}

	if c.Controller.StatusIntervalMs <= 0 {
		c.Controller.StatusIntervalMs = 250
	}
	if c.Controller.LineProgressEvery <= 0 {
		c.Controller.LineProgressEvery = 256
	}

	switch c.Output.Kind {
	case "":
		c.Output.Kind = OutputFile
	case OutputFile, OutputSerial, OutputFIQ:
	default:
		return errors.Errorf("output.kind must be file, serial or fiq, got %q", c.Output.Kind)
	}
	if c.Output.Kind == OutputSerial {
		if c.Output.Serial.Device == "" {
			return errors.New("output.serial.device is required for serial output")
		}
		if c.Output.Serial.Baud <= 0 {
			c.Output.Serial.Baud = 115200
		}
	}
	if c.Output.Compress && c.Output.Kind != OutputFile {
		return errors.New("output.compress is only supported with file output")
	}
	if c.Output.TempPath == "" {
		c.Output.TempPath = os.TempDir() + "/stepgo.fiq.tmp"
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return errors.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func (c *Config) finishMotor(i int) error {
	m := &c.Motors[i]
	if m.Polarity != 0 && m.Polarity != 1 {
		return errors.Errorf("motors[%d].polarity must be 0 or 1, got %d", i, m.Polarity)
	}
	switch m.PowerMode {
	case "":
		m.PowerMode = PowerEnergizedDuringCycle
	case PowerEnergizedDuringCycle, PowerIdleWhenStopped:
	default:
		return errors.Errorf("motors[%d].power_mode %q is not supported", i, m.PowerMode)
	}
	if m.Microsteps == 0 {
		m.Microsteps = 8
	}
	if !StandardMicrosteps(m.Microsteps) {
		c.Warnings = append(c.Warnings, errors.Errorf("motors[%d]: non-standard microstep value %d", i, m.Microsteps).Error())
	}
	if m.StepAngle <= 0 {
		m.StepAngle = 1.8
	}
	if m.TravelPerRev <= 0 {
		m.TravelPerRev = 40
	}
	if len(m.MSPins) > 3 {
		return errors.Errorf("motors[%d].ms_pins takes at most 3 pins", i)
	}
	return nil
}

func (c *Config) finishSwitches() error {
	if c.Switches.Type == "" {
		c.Switches.Type = SwitchNormallyOpen
	}
	if !validSwitchType(c.Switches.Type) {
		return errors.Errorf("switches.type must be no or nc, got %q", c.Switches.Type)
	}
	if c.Switches.DebounceMs == 0 {
		c.Switches.DebounceMs = 50
	}
	if len(c.Switches.Axes) > fiq.Motors {
		return errors.Errorf("at most %d switch axes are supported", fiq.Motors)
	}
	for len(c.Switches.Axes) < fiq.Motors {
		c.Switches.Axes = append(c.Switches.Axes, AxisSwitches{})
	}
	for i := range c.Switches.Axes {
		for _, sw := range []*SwitchConfig{&c.Switches.Axes[i].Min, &c.Switches.Axes[i].Max} {
			if sw.Mode == "" {
				sw.Mode = SwitchDisabled
			}
			switch sw.Mode {
			case SwitchDisabled, SwitchHoming, SwitchLimit, SwitchHomingLimit:
			default:
				return errors.Errorf("switches.axes[%d]: unknown mode %q", i, sw.Mode)
			}
			if sw.Type != "" && !validSwitchType(sw.Type) {
				return errors.Errorf("switches.axes[%d]: type must be no or nc, got %q", i, sw.Type)
			}
			if sw.Mode != SwitchDisabled && sw.Pin <= 0 {
				return errors.Errorf("switches.axes[%d]: enabled switch needs a pin", i)
			}
		}
	}
	return nil
}

func validSwitchType(t string) bool {
	return t == SwitchNormallyOpen || t == SwitchNormallyClosed
}

// StandardMicrosteps reports whether the drivers support a microstep mode.
func StandardMicrosteps(n int) bool {
	switch n {
	case 1, 2, 4, 8, 16:
		return true
	}
	return false
}

// ClampIdleTimeout bounds an idle timeout in seconds.
func ClampIdleTimeout(s float64) float64 {
	if s < IdleTimeoutMin {
		return IdleTimeoutMin
	}
	if s > IdleTimeoutMax {
		return IdleTimeoutMax
	}
	return s
}

// StepsPerUnit returns the steps per mm of motor m (0-based).
func (c *Config) StepsPerUnit(m int) float64 {
	return StepsPerUnit(c.Motors[m].StepAngle, c.Motors[m].Microsteps, c.Motors[m].TravelPerRev)
}

// StepsPerUnit computes 360 / (step_angle / microsteps) / travel_per_rev.
func StepsPerUnit(stepAngle float64, microsteps int, travelPerRev float64) float64 {
	return 360 / (stepAngle / float64(microsteps)) / travelPerRev
}

// IdleTimeout returns the motor idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.MotorIdleTimeout * float64(time.Second))
}

// StatusInterval returns the status report period.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Controller.StatusIntervalMs) * time.Millisecond
}

// MSPins returns the microstep pins of motor m as a fixed triple.
func (c *Config) MSPins(m int) [3]int {
	var pins [3]int
	copy(pins[:], c.Motors[m].MSPins)
	return pins
}
