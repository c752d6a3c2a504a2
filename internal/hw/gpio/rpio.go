package gpio

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/StepGo/internal/debug"
)

type rpiPin struct {
	pin  rpio.Pin
	mode PinMode
}

// RPiDriver drives BCM pins through go-rpio. Motor ENABLE and microstep
// lines are outputs; switch inputs are read against the internal pull-up.
type RPiDriver struct {
	pins map[int]rpiPin
}

// NewRPiRealDriver maps the GPIO registers.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "failed to open GPIO (are you running on a Raspberry Pi?)")
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{pins: make(map[int]rpiPin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return errors.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = rpiPin{pin: p, mode: mode}
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}
	if p.mode != Output {
		return errors.Errorf("pin %d is an input", pin)
	}
	if level == High {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, InputPullUp); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}
	state := p.pin.Read()
	debug.GPIO("ReadPin", pin, state)
	return Level(state == rpio.High), nil
}

// Close releases every pin as an input. Former outputs keep a pull-up so
// active-low ENABLE lines read as disabled once the driver lets go.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	for pin, p := range r.pins {
		if p.mode == Output {
			p.pin.High()
			p.pin.Input()
			p.pin.PullUp()
			debug.Verbose("Released output pin %d with pull-up", pin)
			continue
		}
		p.pin.Input()
	}
	return rpio.Close()
}
