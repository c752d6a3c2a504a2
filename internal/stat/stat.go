// Package stat holds the status vocabulary shared by every scheduler task and
// pipeline operation.
//
// A Status is flow control, not failure: OK and Noop let the scheduler move on
// to the next task, EAgain stops the current pass, and Error means the task hit
// an error and already reported it.
package stat

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Status is the result of one non-blocking task invocation.
type Status uint8

const (
	OK     Status = iota // work was done
	Noop                 // nothing to do
	EAgain               // not finished, retry first on the next pass
	Error                // failed; the task already reported the error
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Noop:
		return "NOOP"
	case EAgain:
		return "EAGAIN"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Error kinds. Match with errors.Is.
var (
	ErrInvalidDuration = errors.New("invalid segment duration")
	ErrMemoryFault     = errors.New("memory fault")
	ErrIOFailure       = errors.New("i/o failure")
	ErrBufferOwnership = errors.New("prep buffer not owned by exec")
	ErrUnsupported     = errors.New("unsupported command")
	ErrInputValue      = errors.New("input value unsupported")
)

// DurationReason tells why a segment duration was rejected.
type DurationReason uint8

const (
	NotFinite DurationReason = iota + 1
	TooShort
	OutOfRange // finite but more ticks than a record timer holds
)

// DurationError is returned when a segment duration cannot be turned into DDA ticks.
type DurationError struct {
	Reason       DurationReason
	Microseconds float64
}

func (e *DurationError) Error() string {
	switch e.Reason {
	case NotFinite:
		return fmt.Sprintf("segment duration is not finite (%v us)", e.Microseconds)
	case OutOfRange:
		return fmt.Sprintf("segment duration %.0f us exceeds the tick range", e.Microseconds)
	}
	return fmt.Sprintf("segment duration %.3f us is below the minimum", e.Microseconds)
}

// Is makes every DurationError match ErrInvalidDuration.
func (e *DurationError) Is(target error) bool {
	return target == ErrInvalidDuration
}

// CheckDuration validates a segment duration against a minimum.
func CheckDuration(us, min float64) error {
	if math.IsNaN(us) || math.IsInf(us, 0) {
		return &DurationError{Reason: NotFinite, Microseconds: us}
	}
	if us < min {
		return &DurationError{Reason: TooShort, Microseconds: us}
	}
	return nil
}

// MemoryFault wraps an integrity violation so that it matches ErrMemoryFault.
func MemoryFault(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMemoryFault, format, args...)
}
