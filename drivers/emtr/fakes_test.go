package emtr

import (
	"io"
	"log"
	"sync"
	"time"

	"emtrd/errcode"
)

// fakeSerialPort is an in-memory SerialPort: tests queue bytes for the
// driver to read with queueResponse and inspect what it wrote via
// writtenBytes.
type fakeSerialPort struct {
	mu       sync.Mutex
	written  []byte
	toRead   []byte
	flushes  int
	writeErr error
	readErr  error
	closed   bool

	// advanceClock/advanceStep let a test pair this port with the same
	// fakeClock the driver under test uses: every time a read would
	// otherwise return an immediate timeout, the shared clock is moved
	// forward so a caller's deadline loop (which reads elapsed time off
	// that clock, never off the wall clock) actually terminates.
	advanceClock *fakeClock
	advanceStep  time.Duration
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeSerialPort) Read(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.toRead) == 0 {
		if f.advanceClock != nil {
			f.advanceClock.advance(f.advanceStep)
		}
		return 0, errcode.New(errcode.Timeout, "fake", "no data queued")
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakeSerialPort) FlushInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.toRead = nil
	return nil
}

func (f *fakeSerialPort) Drain() error { return nil }
func (f *fakeSerialPort) Close() error { f.closed = true; return nil }

func (f *fakeSerialPort) queueResponse(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRead = append(f.toRead, b...)
}

func (f *fakeSerialPort) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.written))
	copy(out, f.written)
	return out
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu sync.Mutex
	ms int64
}

func (c *fakeClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}

// fakePin records every level it was driven to.
type fakePin struct {
	mu   sync.Mutex
	high bool
	sets []bool
}

func (p *fakePin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
	p.sets = append(p.sets, high)
	return nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// newTestDriver builds a Driver around fakes, bypassing Init's real
// hardware calls, for white-box unit tests in this package.
func newTestDriver(cfg Config, port SerialPort, reset, tx Pin, clock Clock) *Driver {
	cfg.applyDefaults()
	d := &Driver{
		lock:   newRecursiveMutex(),
		cfg:    cfg,
		port:   port,
		framer: NewFramer(port, clock, cfg.Logger),
		reset:  reset,
		tx:     tx,
		clock:  clock,
		logger: cfg.Logger,
	}
	d.sockets = make([]*Socket, cfg.NumSockets)
	for i := range d.sockets {
		d.sockets[i] = newSocket(i+1, cfg.Sockets[i], cfg.numChannels())
	}
	d.poller = newPoller(d)
	return d
}

func testConfig(numSockets int) Config {
	return Config{
		NumSockets:         numSockets,
		Sockets:            DefaultSocketCommands(numSockets),
		Commands:           DefaultCommands(),
		Device:             "/dev/null",
		BaudRate:           230400,
		ResetPinName:       "fake-reset",
		TXPinName:          "fake-tx",
		ApplicationModeTag: 'A',
		FirmwareType:       "emtr",
		Logger:             testLogger(),
	}
}
