package emtr

import (
	"log"
	"time"

	"emtrd/errcode"
)

// commandHoldoff is the settle time the wire protocol requires between a
// relay-state change taking effect and the next command being sent.
const commandHoldoff = 150 * time.Millisecond

// shortWriteRetry and zeroReadRetry are the small backoffs used when the
// transport makes partial progress (short write, zero-byte read) instead
// of failing outright.
const (
	shortWriteRetry = 10 * time.Millisecond
	zeroReadRetry   = 10 * time.Millisecond
)

// Framer speaks the EMTR wire protocol over a SerialPort: it encodes and
// writes command frames, and reads and validates response frames. It
// does not know about command retries, run-mode, or GPIO — that is the
// command engine and run-mode controller's job, one layer up.
type Framer struct {
	port   SerialPort
	clock  Clock
	logger *log.Logger

	holdoff bool
}

// NewFramer returns a Framer writing to and reading from port.
func NewFramer(port SerialPort, clock Clock, logger *log.Logger) *Framer {
	return &Framer{port: port, clock: clock, logger: logger}
}

// RequestHoldoff arms the next WriteCommand to sleep out commandHoldoff
// before sending. The poll scheduler calls this whenever a socket's
// debounced relay state changes.
func (f *Framer) RequestHoldoff() { f.holdoff = true }

// WriteCommand encodes and sends one 8-byte command frame.
func (f *Framer) WriteCommand(cmd byte, payload [4]byte) error {
	if f.holdoff {
		time.Sleep(commandHoldoff)
		f.holdoff = false
	}
	frame := buildCommandFrame(cmd, payload)
	return f.writeAll(frame[:])
}

func (f *Framer) writeAll(b []byte) error {
	for len(b) > 0 {
		n, err := f.port.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(shortWriteRetry)
			continue
		}
		b = b[n:]
	}
	return nil
}

// ReadResponse reads and validates one response frame within timeout.
// If retbuf is non-nil, the response CMD must equal cmd and its payload
// (at most len(retbuf) bytes) is copied into retbuf; the copied length
// is returned. If retbuf is nil, the response is expected to be the
// zero-length generic ACK (CMD 0xF0).
func (f *Framer) ReadResponse(cmd byte, retbuf []byte, timeout time.Duration) (int, error) {
	deadline := f.clock.NowMs() + timeout.Milliseconds()

	header, err := f.readN(respHeaderLen, deadline)
	if err != nil {
		return 0, err
	}
	if header[0] != sop {
		return 0, errcode.New(errcode.BadFrame, "framer.read", "missing sop")
	}
	respCmd, length := header[1], header[2]

	wantCmd := cmd
	if retbuf == nil {
		wantCmd = genericAck
	}
	if respCmd != wantCmd {
		f.drain(int(length), deadline)
		return 0, errcode.New(errcode.BadFrame, "framer.read", "unexpected response cmd")
	}
	if retbuf != nil && int(length) > len(retbuf) {
		f.drain(int(length), deadline)
		return 0, errcode.New(errcode.BadFrame, "framer.read", "response longer than buffer")
	}

	payload, err := f.readN(int(length), deadline)
	if err != nil {
		return 0, err
	}
	trailer, err := f.readN(respTrailerLen, deadline)
	if err != nil {
		return 0, err
	}
	if trailer[0] != responseChecksum(respCmd, length, payload) {
		return 0, errcode.New(errcode.BadCrc, "framer.read", "response checksum mismatch")
	}

	if retbuf == nil {
		return 0, nil
	}
	return copy(retbuf, payload), nil
}

// drain reads and discards n payload bytes plus the 2-byte trailer, to
// resynchronise after a frame we couldn't use. Failures are ignored:
// this is best-effort resync, and the caller already has an error to
// report.
func (f *Framer) drain(n int, deadline int64) {
	_, _ = f.readN(n+respTrailerLen, deadline)
}

func (f *Framer) readN(n int, deadlineMs int64) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		now := f.clock.NowMs()
		remaining := time.Duration(deadlineMs-now) * time.Millisecond
		if remaining <= 0 {
			return nil, errcode.New(errcode.Timeout, "framer.read", "deadline exceeded")
		}
		nr, err := f.port.Read(buf[got:], remaining)
		if err != nil {
			if errcode.Of(err) == errcode.Timeout {
				continue
			}
			return nil, err
		}
		if nr == 0 {
			time.Sleep(zeroReadRetry)
			continue
		}
		got += nr
	}
	return buf, nil
}
