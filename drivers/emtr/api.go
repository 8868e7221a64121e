package emtr

import (
	"time"

	"emtrd/errcode"
)

// CommandOptions overrides the defaults for a pass-through Command call.
type CommandOptions struct {
	// Timeout overrides the default response wait. Zero means default.
	Timeout time.Duration
	// NoResponse marks the command as fire-and-forget.
	NoResponse bool
	// ParseResponse, when false, skips reading the response entirely: the
	// call returns 0 once the frame is written and retbuf is left
	// untouched. No raw response bytes are handed back to the caller.
	ParseResponse *bool
}

// SocketSnapshot is socket_status's return value: a copy of a Socket's
// cached fields plus the relay_time_s derived at read time.
type SocketSnapshot struct {
	Num          int
	RelayActive  bool
	PlugDetected bool
	LoadActive   bool
	Overload     bool
	RelayTimeS   uint32

	DVolts, MAmps, DWatts, PFactor uint16
	DWattHours                     uint64
}

func (d *Driver) running() error {
	if d.closed {
		return errcode.New(errcode.BadState, "emtr", "driver is stopped")
	}
	return nil
}

// DeviceStatus returns a copy of the cached Device state.
func (d *Driver) DeviceStatus() (Device, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.running(); err != nil {
		return Device{}, err
	}
	return d.device, nil
}

// SocketStatus returns a copy of socket n's (1-based) cached state.
func (d *Driver) SocketStatus(n int) (SocketSnapshot, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.running(); err != nil {
		return SocketSnapshot{}, err
	}
	s, err := d.socket(n)
	if err != nil {
		return SocketSnapshot{}, err
	}
	relayTimeS := uint32(0)
	if s.relayChangedAtMs != 0 {
		relayTimeS = uint32((d.clock.NowMs() - s.relayChangedAtMs) / 1000)
	}
	return SocketSnapshot{
		Num:          s.Num,
		RelayActive:  s.RelayActive,
		PlugDetected: s.PlugDetected,
		LoadActive:   s.LoadActive,
		Overload:     s.Overload,
		RelayTimeS:   relayTimeS,
		DVolts:       s.DVolts,
		MAmps:        s.MAmps,
		DWatts:       s.DWatts,
		PFactor:      s.PFactor,
		DWattHours:   s.DWattHours,
	}, nil
}

// ReadAccumulator returns channel ch's four measurement windows for
// socket n, per §4.5, optionally rearming them.
func (d *Driver) ReadAccumulator(n, ch int, reset bool) (ChannelSnapshot, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.running(); err != nil {
		return ChannelSnapshot{}, err
	}
	s, err := d.socket(n)
	if err != nil {
		return ChannelSnapshot{}, err
	}
	if ch < 0 || ch >= d.cfg.numChannels() {
		return ChannelSnapshot{}, errcode.New(errcode.InvalidArg, "emtr", "bad accumulator channel")
	}
	return ChannelSnapshot{
		DVolts:  s.accumulator(ch, measDVolts).snapshot(reset),
		MAmps:   s.accumulator(ch, measMAmps).snapshot(reset),
		DWatts:  s.accumulator(ch, measDWatts).snapshot(reset),
		PFactor: s.accumulator(ch, measPFactor).snapshot(reset),
	}, nil
}

// ResetAccumulator rearms channel ch's windows without returning a
// snapshot.
func (d *Driver) ResetAccumulator(n, ch int) error {
	_, err := d.ReadAccumulator(n, ch, true)
	return err
}

// SetRelay sends TurnOn or TurnOff for socket n; no response is
// expected from the EMTR for this command.
func (d *Driver) SetRelay(n int, on bool) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.running(); err != nil {
		return err
	}
	s, err := d.socket(n)
	if err != nil {
		return err
	}
	cmd := s.Commands.TurnOff
	if on {
		cmd = s.Commands.TurnOn
	}
	opts := defaultCommandOptions(&d.cfg)
	opts.noResponse = true
	_, err = d.command(cmd, [4]byte{}, nil, opts)
	return err
}

// RelayIsActive reports socket n's cached relay state, or false if n
// is invalid or the driver is stopped.
func (d *Driver) RelayIsActive(n int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.running() != nil {
		return false
	}
	s, err := d.socket(n)
	if err != nil {
		return false
	}
	return s.RelayActive
}

// LoadIsActive reports socket n's cached load state (the load bit of
// the last GetStatus), or false if n is invalid or the driver is stopped.
func (d *Driver) LoadIsActive(n int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.running() != nil {
		return false
	}
	s, err := d.socket(n)
	if err != nil {
		return false
	}
	return s.LoadActive
}

// Command is the pass-through escape hatch for commands the driver
// doesn't otherwise wrap.
func (d *Driver) Command(cmd byte, payload [4]byte, retbuf []byte, opts *CommandOptions) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.running(); err != nil {
		return 0, err
	}
	co := defaultCommandOptions(&d.cfg)
	if opts != nil {
		if opts.Timeout > 0 {
			co.timeout = opts.Timeout
		}
		co.noResponse = opts.NoResponse
		if opts.ParseResponse != nil {
			co.parseResponse = *opts.ParseResponse
		}
	}
	return d.command(cmd, payload, retbuf, co)
}

func (d *Driver) socket(n int) (*Socket, error) {
	if n < 1 || n > len(d.sockets) {
		return nil, errcode.New(errcode.InvalidArg, "emtr", "socket number out of range")
	}
	return d.sockets[n-1], nil
}
