package emtr

import (
	"testing"
	"time"

	"emtrd/bus"
	"emtrd/errcode"
)

func newSpeedyTestDriver(numSockets int) (*Driver, *fakeSerialPort, *fakeClock) {
	clock := &fakeClock{}
	port := &fakeSerialPort{advanceClock: clock, advanceStep: 5 * time.Millisecond}
	cfg := testConfig(numSockets)
	cfg.CommandTimeout = 20 * time.Millisecond
	cfg.ResetDelay = 2 * time.Millisecond
	d := newTestDriver(cfg, port, &fakePin{}, &fakePin{}, clock)
	return d, port, clock
}

func TestCommandLinkLossAfterRetries(t *testing.T) {
	d, _, _ := newSpeedyTestDriver(1)
	reset := d.reset.(*fakePin)

	_, err := d.command(d.cfg.Commands.GetStatus, [4]byte{}, make([]byte, 9), defaultCommandOptions(&d.cfg))
	if errcode.Of(err) != errcode.Link {
		t.Fatalf("err = %v, want Link", err)
	}
	if d.device.CommUp {
		t.Fatal("comm_up should be false after the retry budget is exhausted")
	}
	if len(reset.sets) == 0 {
		t.Fatal("expected the final retry attempt to have driven the reset pin")
	}
}

func TestCommandReconnectFiresCommUpOnce(t *testing.T) {
	d, port, _ := newSpeedyTestDriver(1)
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	d.UseBus(conn)
	sub := conn.Subscribe(bus.T("emtr", "comm", "up"))

	// Drive comm_up to false first.
	if _, err := d.command(d.cfg.Commands.GetStatus, [4]byte{}, make([]byte, 9), defaultCommandOptions(&d.cfg)); err == nil {
		t.Fatal("expected the first call, with nothing queued, to fail")
	}

	// Queue a valid response and retry; comm_up should flip true exactly once.
	queueValidResponse(port, d.cfg.Commands.GetStatus, []byte{0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x3C})
	n, err := d.command(d.cfg.Commands.GetStatus, [4]byte{}, make([]byte, 9), defaultCommandOptions(&d.cfg))
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if n != 7 {
		t.Fatalf("n = %d, want 7", n)
	}
	if !d.device.CommUp {
		t.Fatal("comm_up should be true after a successful response")
	}

	select {
	case msg := <-sub.Channel():
		if _, ok := msg.Payload.(EventCommUp); !ok {
			t.Fatalf("payload = %#v, want EventCommUp", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a CommUp event to have been published")
	}

	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected second CommUp event: %#v", msg)
	default:
	}
}

func TestCommandNoResponseDoesNotWaitForReply(t *testing.T) {
	d, port, _ := newSpeedyTestDriver(1)
	opts := defaultCommandOptions(&d.cfg)
	opts.noResponse = true

	n, err := d.command(d.cfg.Sockets[0].TurnOn, [4]byte{}, nil, opts)
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	if !d.device.CommUp {
		t.Fatal("a fire-and-forget command should still mark comm_up true")
	}
	if len(port.writtenBytes()) != cmdFrameLen {
		t.Fatalf("wrote %d bytes, want exactly one command frame", len(port.writtenBytes()))
	}
}
