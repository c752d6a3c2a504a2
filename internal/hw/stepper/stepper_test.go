package stepper

import (
	"testing"

	"github.com/cjeanneret/StepGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls []gpioCall
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func TestStepper_StartsDisabled(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, Config{EnablePin: 5})

	writes := drv.writeCallsForPin(5)
	if len(writes) != 1 || writes[0].level != gpio.High {
		t.Fatalf("expected one HIGH write on enable pin at init, got %+v", writes)
	}
	if s.Energized() {
		t.Error("new stepper should be de-energized")
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, Config{EnablePin: 5})
	drv.calls = nil

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	writes := drv.writeCallsForPin(5)
	if len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(writes))
	}
	if writes[0].level != gpio.Low {
		t.Error("Enable should drive ENABLE LOW")
	}
	if writes[1].level != gpio.High {
		t.Error("Disable should drive ENABLE HIGH")
	}
}

func TestStepper_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, Config{})
	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if len(drv.calls) != 0 {
		t.Errorf("expected no GPIO calls, got %+v", drv.calls)
	}
	if !s.Energized() {
		t.Error("Energized should track the command even without a pin")
	}
}

func TestStepper_SetMicrosteps(t *testing.T) {
	cases := []struct {
		mode          int
		ms0, ms1, ms2 gpio.Level
	}{
		{1, gpio.Low, gpio.Low, gpio.Low},
		{2, gpio.High, gpio.Low, gpio.Low},
		{4, gpio.Low, gpio.High, gpio.Low},
		{8, gpio.High, gpio.High, gpio.Low},
		{16, gpio.High, gpio.High, gpio.High},
	}
	for _, tc := range cases {
		drv := &recordingDriver{}
		s := NewStepper(drv, Config{MSPins: [3]int{10, 11, 12}})
		drv.calls = nil

		if err := s.SetMicrosteps(tc.mode); err != nil {
			t.Fatalf("SetMicrosteps(%d): %v", tc.mode, err)
		}
		want := []gpio.Level{tc.ms0, tc.ms1, tc.ms2}
		for i, pin := range []int{10, 11, 12} {
			w := drv.writeCallsForPin(pin)
			if len(w) != 1 || w[0].level != want[i] {
				t.Errorf("mode %d: MS%d writes = %+v, want %v", tc.mode, i, w, want[i])
			}
		}
	}
}

func TestBoard_RangeCheck(t *testing.T) {
	b := NewBoard(&gpio.MockDriver{}, []Config{{EnablePin: 1}, {EnablePin: 2}})
	if err := b.Energize(1); err != nil {
		t.Fatalf("Energize(1): %v", err)
	}
	if !b.Energized(1) || b.Energized(0) {
		t.Error("only motor index 1 should be energized")
	}
	if err := b.Energize(2); err == nil {
		t.Error("expected out of range error")
	}
}
