package emtr

import "fmt"

// RunMode is which firmware image is currently executing on the EMTR.
type RunMode int

const (
	NotRunning RunMode = iota
	Application
	Bootloader
)

func (m RunMode) String() string {
	switch m {
	case Application:
		return "application"
	case Bootloader:
		return "bootloader"
	default:
		return "not_running"
	}
}

// Version is a M.m.p firmware or bootloader version tuple.
type Version struct {
	Major, Minor, Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Device is the process-singleton device-wide state, mutated only by
// the poll scheduler and the run-mode controller.
type Device struct {
	CommUp        bool
	TemperatureC  uint16
	UptimeSeconds uint32
	DeviceFlags   uint8
	ResetCount    uint32
	RunMode       RunMode
	BLVersion     Version
	FWVersion     Version
}

// tristate is the {current, pending} debounce value domain for a
// change-of-state tracker: Init until the first observation arrives.
type tristate int

const (
	stateInit tristate = iota
	stateFalse
	stateTrue
)

func tristateOf(b bool) tristate {
	if b {
		return stateTrue
	}
	return stateFalse
}

func (t tristate) bool() bool { return t == stateTrue }

// cosTracker is a {current, pending} 1-tick-debounce change-of-state
// tracker, per §4.5: a new observation differing from current updates
// pending immediately, and current only catches up on the next tick
// that confirms it (so a single-tick glitch never surfaces an event).
type cosTracker struct {
	current tristate
	pending tristate
}

// observe feeds one new sample and reports whether current changed
// (and, if so, its new value) so the caller can raise events/holdoff.
func (t *cosTracker) observe(v bool) (changed bool, newVal bool) {
	nv := tristateOf(v)
	if t.current == stateInit {
		t.current = nv
		t.pending = nv
		return false, nv.bool()
	}
	if t.pending != nv {
		t.pending = nv
		return false, t.current.bool()
	}
	if t.current != t.pending {
		t.current = t.pending
		return true, t.current.bool()
	}
	return false, t.current.bool()
}

// Socket is the per-physical-socket cached state and command table.
type Socket struct {
	Num      int
	Commands SocketCommands

	RelayActive  bool
	PlugDetected bool
	LoadActive   bool
	Overload     bool

	// relayChangedAtMs is the clock reading when RelayActive last
	// flipped; relay_time_s (§3) is derived from it at snapshot time
	// rather than accumulated tick by tick.
	relayChangedAtMs int64

	DVolts  uint16
	MAmps   uint16
	DWatts  uint16
	PFactor uint16

	DWattHours uint64

	relayTracker    cosTracker
	plugTracker     cosTracker
	loadTracker     cosTracker
	overloadTracker cosTracker

	channels []Accumulator
}

func newSocket(num int, cmds SocketCommands, numChannels int) *Socket {
	s := &Socket{Num: num, Commands: cmds, PFactor: 100}
	s.channels = make([]Accumulator, numChannels*int(measCount))
	for ch := 0; ch < numChannels; ch++ {
		for m := measurement(0); m < measCount; m++ {
			resetValue := uint32(0)
			if m == measPFactor {
				resetValue = 100
			}
			s.channels[ch*int(measCount)+int(m)] = newAccumulatorWithReset(resetValue)
		}
	}
	return s
}

// measurement selects one of the four per-channel accumulators.
type measurement int

const (
	measDVolts measurement = iota
	measMAmps
	measDWatts
	measPFactor
	measCount
)

func (s *Socket) accumulator(channel int, m measurement) *Accumulator {
	return &s.channels[channel*int(measCount)+int(m)]
}
