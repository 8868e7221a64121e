package emtr

import (
	"log"
	"time"

	"emtrd/bus"
	"emtrd/errcode"
)

// commandOptions overrides the defaults for one command() call.
type commandOptions struct {
	timeout       time.Duration
	parseResponse bool
	noResponse    bool
}

func defaultCommandOptions(cfg *Config) commandOptions {
	return commandOptions{timeout: cfg.CommandTimeout, parseResponse: true}
}

// Driver is the explicit handle for one EMTR instance: one serial port,
// two GPIO pins, one poll scheduler, one cached Device/Socket model.
// All exported methods are safe for concurrent use; they share the
// same reentrant lock a background poll loop also uses.
type Driver struct {
	lock *recursiveMutex

	cfg    Config
	port   SerialPort
	framer *Framer
	reset  Pin
	tx     Pin
	clock  Clock
	logger *log.Logger
	events *bus.Connection // optional; nil when no bus wiring was configured

	device  Device
	sockets []*Socket

	poller *poller

	closed bool
}

// Init validates config, opens the serial port and GPIO pins, probes
// the EMTR's current run mode, and leaves the driver ready for Start.
// It does not start the poll scheduler.
func Init(cfg Config) (*Driver, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	port, err := OpenSerialPort(cfg.Device, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	resetPin, err := OpenPin(cfg.ResetPinName)
	if err != nil {
		port.Close()
		return nil, err
	}
	txPin, err := OpenPin(cfg.TXPinName)
	if err != nil {
		port.Close()
		return nil, err
	}

	d := &Driver{
		lock:   newRecursiveMutex(),
		cfg:    cfg,
		port:   port,
		framer: NewFramer(port, cfg.Clock, cfg.Logger),
		reset:  resetPin,
		tx:     txPin,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	d.sockets = make([]*Socket, cfg.NumSockets)
	for i := range d.sockets {
		d.sockets[i] = newSocket(i+1, cfg.Sockets[i], cfg.numChannels())
	}
	d.poller = newPoller(d)

	if err := d.probeRunMode(); err != nil {
		port.Close()
		return nil, err
	}
	return d, nil
}

// UseBus wires a bus.Connection for event publication (every Event type
// in events.go). Optional; without it, those events are dropped.
func (d *Driver) UseBus(conn *bus.Connection) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.events = conn
}

// Start creates the poll task and arms its timer.
func (d *Driver) Start() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return errcode.New(errcode.BadState, "driver.start", "driver is closed")
	}
	d.poller.start()
	return nil
}

// Stop cancels the timer and stops the poll task. The driver may not
// be reused after Stop.
//
// poller.stop waits for any in-flight tick to finish, and a tick needs
// the driver lock to run; it is called before Lock here so that wait
// can never block on a lock this same call is holding.
func (d *Driver) Stop() error {
	d.poller.stop()

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.port.Close()
	return nil
}
