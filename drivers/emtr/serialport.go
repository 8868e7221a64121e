package emtr

import (
	"time"

	serial "github.com/daedaluz/goserial"

	"emtrd/errcode"
)

// SerialPort is the minimal transport contract the Framer needs: a
// blocking write, a deadline-bounded read, and the two housekeeping
// operations the command engine and run-mode controller use to resync
// the line (discarding stale RX bytes, waiting out a pending TX).
type SerialPort interface {
	Write(p []byte) (int, error)
	// Read fills p as far as it can within timeout and returns the
	// number of bytes read. A read that produces nothing before timeout
	// elapses returns (0, errcode.Timeout).
	Read(p []byte, timeout time.Duration) (int, error)
	// FlushInput discards any bytes currently buffered in the receiver.
	FlushInput() error
	// Drain blocks until every written byte has left the transmitter.
	Drain() error
	Close() error
}

// goserialPort is the real SerialPort, backed by a Linux termios serial
// line opened raw, 8N1, no flow control.
type goserialPort struct {
	port *serial.Port
}

// OpenSerialPort opens device at baud for exclusive use by one Driver.
func OpenSerialPort(device string, baud uint32) (SerialPort, error) {
	flag, ok := baudFlag(baud)
	if !ok {
		return nil, errcode.New(errcode.InvalidArg, "serial.open", "unsupported baud rate")
	}
	p, err := serial.Open(device, &serial.Options{})
	if err != nil {
		return nil, errcode.Wrap(errcode.Io, "serial.open", err)
	}
	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, errcode.Wrap(errcode.Io, "serial.getattr", err)
	}
	attrs.MakeRaw()
	attrs.SetSpeed(flag)
	if err := p.SetAttr(serial.TCSANOW, attrs); err != nil {
		p.Close()
		return nil, errcode.Wrap(errcode.Io, "serial.setattr", err)
	}
	if err := p.Flush(serial.TCIOFLUSH); err != nil {
		p.Close()
		return nil, errcode.Wrap(errcode.Io, "serial.flush", err)
	}
	return &goserialPort{port: p}, nil
}

func baudFlag(baud uint32) (serial.CFlag, bool) {
	switch baud {
	case 230400:
		return serial.B230400, true
	case 921600:
		return serial.B921600, true
	default:
		return 0, false
	}
}

func (g *goserialPort) Write(p []byte) (int, error) {
	n, err := g.port.Write(p)
	if err != nil {
		return n, errcode.Wrap(errcode.Io, "serial.write", err)
	}
	return n, nil
}

func (g *goserialPort) Read(p []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, errcode.New(errcode.Timeout, "serial.read", "deadline exceeded")
	}
	n, err := g.port.ReadTimeout(p, timeout)
	if err != nil {
		if n > 0 {
			return n, nil
		}
		return 0, errcode.Wrap(errcode.Timeout, "serial.read", err)
	}
	return n, nil
}

func (g *goserialPort) FlushInput() error {
	if err := g.port.Flush(serial.TCIFLUSH); err != nil {
		return errcode.Wrap(errcode.Io, "serial.flush", err)
	}
	return nil
}

func (g *goserialPort) Drain() error {
	if err := g.port.Drain(); err != nil {
		return errcode.Wrap(errcode.Io, "serial.drain", err)
	}
	return nil
}

func (g *goserialPort) Close() error { return g.port.Close() }
