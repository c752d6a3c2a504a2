package gpio

import "testing"

func TestMockDriver_DefaultInputHigh(t *testing.T) {
	m := &MockDriver{}
	l, err := m.ReadPin(7)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if l != High {
		t.Errorf("unset input = %v, want High", l)
	}
}

func TestMockDriver_SetInputAndWrite(t *testing.T) {
	m := &MockDriver{}
	m.SetInput(7, Low)
	if l, _ := m.ReadPin(7); l != Low {
		t.Errorf("forced input = %v, want Low", l)
	}

	if err := m.WritePin(9, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	if l, ok := m.Level(9); !ok || l != High {
		t.Errorf("Level(9) = %v,%v want High,true", l, ok)
	}
	if _, ok := m.Level(10); ok {
		t.Error("Level(10) should be unknown")
	}
}

func TestLevelBit(t *testing.T) {
	if High.Bit() != 1 || Low.Bit() != 0 {
		t.Errorf("Bit() mismatch: high=%d low=%d", High.Bit(), Low.Bit())
	}
}

func TestMockDriver_WriteToInputRejected(t *testing.T) {
	m := &MockDriver{}
	if err := m.SetupPin(17, InputPullUp); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	if err := m.WritePin(17, Low); err == nil {
		t.Error("WritePin on an input pin should fail")
	}
	if mode, ok := m.Mode(17); !ok || mode != InputPullUp {
		t.Errorf("Mode(17) = %v,%v want InputPullUp,true", mode, ok)
	}

	if err := m.SetupPin(5, Output); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	if err := m.WritePin(5, Low); err != nil {
		t.Errorf("WritePin on an output pin: %v", err)
	}
}
