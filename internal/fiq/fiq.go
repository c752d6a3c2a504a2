// Package fiq defines the pulse record stream consumed by the FIQ
// pulse engine and the sinks that receive it.
//
// A record tells the engine to wait Timer DDA ticks, then clear the GPIO
// bits in Clear and set the bits in Set. Step pulses are produced as
// pairs of records: one that drops the step lines, one that raises them.
package fiq

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Motors is the number of motor channels the bit table maps.
const Motors = 5

// RecordSize is the encoded size of a Record in bytes.
const RecordSize = 12

// GPIO bit positions of the step and direction lines.
const (
	XStep = 1 << 0
	XDir  = 1 << 1
	YStep = 1 << 2
	YDir  = 1 << 3
	ZStep = 1 << 4
	ZDir  = 1 << 5
	AStep = 1 << 6
	ADir  = 1 << 16
	BStep = 1 << 21
	BDir  = 1 << 25

	AllSteps = XStep | YStep | ZStep | AStep | BStep
	AllDirs  = XDir | YDir | ZDir | ADir | BDir
)

// StepBit and DirBit map a motor index to its GPIO bit.
var (
	StepBit = [Motors]uint32{XStep, YStep, ZStep, AStep, BStep}
	DirBit  = [Motors]uint32{XDir, YDir, ZDir, ADir, BDir}
)

// MotorNames labels motors in logs and reports.
var MotorNames = [Motors]string{"X", "Y", "Z", "A", "B"}

// Record is one entry of the pulse stream.
type Record struct {
	Timer uint32
	Clear uint32
	Set   uint32
}

// MarshalBinary encodes r in host byte order.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	r.put(b)
	return b, nil
}

// UnmarshalBinary decodes a host byte order record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return errors.Errorf("fiq record needs %d bytes, got %d", RecordSize, len(b))
	}
	r.Timer = binary.NativeEndian.Uint32(b[0:])
	r.Clear = binary.NativeEndian.Uint32(b[4:])
	r.Set = binary.NativeEndian.Uint32(b[8:])
	return nil
}

func (r Record) put(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], r.Timer)
	binary.NativeEndian.PutUint32(b[4:], r.Clear)
	binary.NativeEndian.PutUint32(b[8:], r.Set)
}

// Writer encodes records onto an io.Writer and keeps simple counters.
type Writer struct {
	w       io.Writer
	buf     [RecordSize]byte
	records uint64
	steps   [Motors]uint64
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Reset points the writer at a new destination and clears the counters.
func (w *Writer) Reset(dst io.Writer) {
	w.w = dst
	w.records = 0
	w.steps = [Motors]uint64{}
}

// Write emits one record.
func (w *Writer) Write(r Record) error {
	if w.w == nil {
		return errors.New("fiq writer has no destination")
	}
	r.put(w.buf[:])
	if _, err := w.w.Write(w.buf[:]); err != nil {
		return errors.Wrap(err, "write fiq record")
	}
	w.records++
	for m := 0; m < Motors; m++ {
		if r.Set&StepBit[m] != 0 {
			w.steps[m]++
		}
	}
	return nil
}

// Records returns the number of records written since the last Reset.
func (w *Writer) Records() uint64 { return w.records }

// Steps returns the number of step pulses written per motor.
func (w *Writer) Steps() [Motors]uint64 { return w.steps }

// Reader decodes a record stream.
type Reader struct {
	r   io.Reader
	buf [RecordSize]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read returns the next record or io.EOF at the end of the stream.
func (r *Reader) Read() (Record, error) {
	var rec Record
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return rec, errors.Wrap(err, "truncated fiq record")
		}
		return rec, err
	}
	_ = rec.UnmarshalBinary(r.buf[:])
	return rec, nil
}

// ReadAll decodes every record of r.
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Trace summarizes a decoded stream: pulses per motor and the last
// direction level seen for each motor.
type Trace struct {
	Steps [Motors]int
	Dir   [Motors]bool
	Ticks uint64
}

// Summarize walks records and counts rising step edges.
func Summarize(recs []Record) Trace {
	var t Trace
	for _, r := range recs {
		t.Ticks += uint64(r.Timer)
		for m := 0; m < Motors; m++ {
			if r.Set&StepBit[m] != 0 {
				t.Steps[m]++
			}
			if r.Set&DirBit[m] != 0 {
				t.Dir[m] = true
			}
			if r.Clear&DirBit[m] != 0 {
				t.Dir[m] = false
			}
		}
	}
	return t
}
