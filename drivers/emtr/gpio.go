package emtr

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"emtrd/errcode"
)

// Pin is the minimal GPIO output contract the run-mode controller needs
// for the EMTR reset line and the repurposed UART TX line.
type Pin interface {
	// Set drives the pin high (or low, when high is false).
	Set(high bool) error
}

type periphPin struct {
	pin gpio.PinOut
}

// OpenPin resolves name (e.g. "GPIO17") through the periph.io GPIO
// registry and configures it as an output, initially high. It calls
// host.Init lazily; repeated calls are cheap, per periph.io's contract.
func OpenPin(name string) (Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.Io, "gpio.init", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errcode.New(errcode.InvalidArg, "gpio.open", "unknown pin: "+name)
	}
	if err := p.Out(gpio.High); err != nil {
		return nil, errcode.Wrap(errcode.Io, "gpio.open", err)
	}
	return &periphPin{pin: p}, nil
}

func (p *periphPin) Set(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := p.pin.Out(level); err != nil {
		return errcode.Wrap(errcode.Io, "gpio.set", err)
	}
	return nil
}
