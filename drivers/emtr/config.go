package emtr

import (
	"log"
	"time"

	"github.com/andreyvit/tinyjson"

	"emtrd/errcode"
	"emtrd/x/strx"
)

// Config configures one Driver instance. All timing fields use zero to
// mean "use the documented default".
type Config struct {
	// NumSockets is the number of physical sockets on the board (>=1).
	NumSockets int
	// Sockets carries the per-socket command table, len == NumSockets.
	Sockets []SocketCommands
	// Commands carries the device-wide command table.
	Commands Commands

	// NumAccChan is the number of application-reserved accumulator
	// channels in addition to the fixed channel 0. The driver always
	// allocates 1+NumAccChan channels per socket (see DESIGN.md).
	NumAccChan int

	// Device is the serial device path, e.g. "/dev/ttyUSB0".
	Device string
	// BaudRate is the serial line speed, e.g. 230400 or 921600.
	BaudRate uint32
	// CommandTimeout bounds one command's response wait. Default 5s.
	CommandTimeout time.Duration

	// ResetPinName and TXPinName are periph.io GPIO pin names (e.g.
	// "GPIO17"). ResetPinName drives EMTR reset (active low); TXPinName
	// is the UART TX line, repurposed as a plain output during
	// mode-switch.
	ResetPinName string
	TXPinName    string
	// ResetDelay is the settle time after releasing reset, before the
	// EMTR is expected to answer. Default 100ms.
	ResetDelay time.Duration

	// ApplicationModeTag is the mode character GetState returns when the
	// EMTR is running its application image (bootloader always reports
	// 'B'). Default 'A'.
	ApplicationModeTag byte
	// FirmwareType is the 4-byte ASCII tag a firmware image header must
	// carry in its type field, e.g. "emtr".
	FirmwareType string

	// ReverseSocketWireOrder mirrors the wire layout of GetStatus/GetKWH/
	// GetInstant, which lists sockets highest-to-lowest. Default true;
	// set false for EMTR firmware that reports ascending order.
	ReverseSocketWireOrder *bool

	Logger *log.Logger
	Clock  Clock
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5000 * time.Millisecond
	}
	if c.ResetDelay <= 0 {
		c.ResetDelay = 100 * time.Millisecond
	}
	if c.ApplicationModeTag == 0 {
		c.ApplicationModeTag = 'A'
	}
	if c.FirmwareType == "" {
		c.FirmwareType = "emtr"
	}
	if c.ReverseSocketWireOrder == nil {
		t := true
		c.ReverseSocketWireOrder = &t
	}
	c.Device = strx.Coalesce(c.Device, "/dev/ttyUSB0")
	if c.BaudRate == 0 {
		c.BaudRate = 230400
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if (c.Commands == Commands{}) {
		c.Commands = DefaultCommands()
	}
}

func (c *Config) reversed() bool { return c.ReverseSocketWireOrder == nil || *c.ReverseSocketWireOrder }

func (c *Config) validate() error {
	if c.NumSockets <= 0 {
		return errcode.New(errcode.InvalidArg, "config", "num_sockets must be >= 1")
	}
	if len(c.Sockets) != c.NumSockets {
		return errcode.New(errcode.InvalidArg, "config", "sockets table length must equal num_sockets")
	}
	if c.NumAccChan < 0 {
		return errcode.New(errcode.InvalidArg, "config", "num_acc_chan must be >= 0")
	}
	if c.ResetPinName == "" || c.TXPinName == "" {
		return errcode.New(errcode.InvalidArg, "config", "reset and tx pin names are required")
	}
	return nil
}

// numChannels is the total accumulator-channel count per socket:
// channel 0 (device-internal "load" channel) plus the configured
// application-reserved channels.
func (c *Config) numChannels() int { return 1 + c.NumAccChan }

// boardProfile is the subset of Config that can be described as a named,
// embedded JSON document and resolved by LoadBoardConfig.
type boardProfile struct {
	raw map[string]any
}

// embeddedBoardProfiles holds small reference board profiles, the way the
// teacher's services/config package embeds per-device JSON documents.
var embeddedBoardProfiles = map[string]string{
	"pw240": `{
		"num_sockets": 2,
		"device": "/dev/ttyUSB0",
		"baud": 230400,
		"reset_pin": "GPIO17",
		"tx_pin": "GPIO14",
		"application_mode_tag": "A",
		"firmware_type": "emtr",
		"num_acc_chan": 1,
		"reverse_socket_wire_order": true
	}`,
}

// LoadBoardConfig resolves one of the embedded named board profiles into
// a Config with a default per-socket command table. Callers that need a
// non-default command table should build Config by hand instead.
func LoadBoardConfig(name string) (Config, error) {
	raw, ok := embeddedBoardProfiles[name]
	if !ok {
		return Config{}, errcode.New(errcode.InvalidArg, "config", "unknown board profile: "+name)
	}
	val := tinyjson.Raw(raw).Value()
	m, ok := val.(map[string]any)
	if !ok {
		return Config{}, errcode.New(errcode.InvalidArg, "config", "board profile is not a JSON object")
	}
	p := boardProfile{raw: m}

	numSockets := int(p.float("num_sockets", 1))
	cfg := Config{
		NumSockets:         numSockets,
		Sockets:            DefaultSocketCommands(numSockets),
		Commands:           DefaultCommands(),
		NumAccChan:         int(p.float("num_acc_chan", 0)),
		Device:             p.str("device", "/dev/ttyUSB0"),
		BaudRate:           uint32(p.float("baud", 230400)),
		ResetPinName:       p.str("reset_pin", ""),
		TXPinName:          p.str("tx_pin", ""),
		ApplicationModeTag: firstByte(p.str("application_mode_tag", "A"), 'A'),
		FirmwareType:       p.str("firmware_type", "emtr"),
	}
	rev := p.boolean("reverse_socket_wire_order", true)
	cfg.ReverseSocketWireOrder = &rev
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (p boardProfile) float(key string, def float64) float64 {
	if v, ok := p.raw[key].(float64); ok {
		return v
	}
	return def
}

func (p boardProfile) str(key, def string) string {
	if v, ok := p.raw[key].(string); ok {
		return v
	}
	return def
}

func (p boardProfile) boolean(key string, def bool) bool {
	if v, ok := p.raw[key].(bool); ok {
		return v
	}
	return def
}

func firstByte(s string, def byte) byte {
	if len(s) == 0 {
		return def
	}
	return s[0]
}
