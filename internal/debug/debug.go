package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (job start/end, alarms)
	LevelLive    = 2 // Live info (line progress, segments, switch edges)
	LevelVerbose = 3 // Verbose (segment math, task results)
	LevelTrace   = 4 // Trace (GPIO, pulse records)
)

// Fields is an alias so callers do not need to import logrus.
type Fields = logrus.Fields

var (
	level  int
	logger = newLogger(io.Discard)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return l
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (job start/end, alarms)
// 2 = live info (line progress, switch edges)
// 3 = verbose (segment math, task results)
// 4 = trace (GPIO, pulse records)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger.SetOutput(os.Stdout)
	} else {
		logger.SetOutput(io.Discard)
	}
}

// SetOutput redirects log output, e.g. to also feed the web status stream.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// Entry is a logger carrying structured fields (job id, line number...).
type Entry struct {
	e *logrus.Entry
}

// With returns an Entry that attaches fields to every message it logs.
func With(fields Fields) Entry {
	return Entry{e: logger.WithFields(fields)}
}

func (e Entry) Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		e.e.Infof(format, args...)
	}
}

func (e Entry) Live(format string, args ...interface{}) {
	if level >= LevelLive {
		e.e.WithField("cat", "live").Infof(format, args...)
	}
}

func (e Entry) Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		e.e.Debugf(format, args...)
	}
}

func (e Entry) Error(err error) {
	if level >= LevelInfo {
		e.e.Error(err)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Infof(format, args...)
	}
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Warnf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.WithField("cat", "live").Infof(format, args...)
	}
}

// Edge prints a switch edge (level 2).
func Edge(axis, position int, edge string) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{"axis": axis, "pos": position}).Infof("switch %s edge", edge)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"pin": pin, "value": value}).Trace(operation)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo {
		logger.Error(err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
