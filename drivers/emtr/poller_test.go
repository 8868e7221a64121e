package emtr

import (
	"testing"
	"time"

	"emtrd/bus"
)

func TestApplyStatusGetStatusBoundary(t *testing.T) {
	d, _, _ := newSpeedyTestDriver(1)

	// 7 bytes: n(1) flags + 2-byte temp + 4-byte uptime, no device_flags.
	d.applyStatus([]byte{0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x3C})
	if d.device.DeviceFlags != 0 {
		t.Fatalf("device_flags = %d, want 0 when the response omits the byte", d.device.DeviceFlags)
	}
	if d.device.TemperatureC != 20 || d.device.UptimeSeconds != 60 {
		t.Fatalf("temp=%d uptime=%d, want 20/60", d.device.TemperatureC, d.device.UptimeSeconds)
	}

	// 8 bytes: device_flags present and non-zero.
	d.applyStatus([]byte{0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x3C, 0x01})
	if d.device.DeviceFlags != 1 {
		t.Fatalf("device_flags = %d, want 1 when the response carries the byte", d.device.DeviceFlags)
	}
}

func TestApplyStatusSocketWireOrderReversed(t *testing.T) {
	d, _, _ := newSpeedyTestDriver(2)
	// ReverseSocketWireOrder defaults true: wire byte 0 belongs to the
	// highest-numbered socket, so a relay bit there maps to socket 2.
	d.applyStatus([]byte{0x04, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x3C})
	if d.sockets[0].RelayActive {
		t.Fatal("socket 1 should not be relay-active")
	}
	if !d.sockets[1].RelayActive {
		t.Fatal("socket 2 should be relay-active (wire position 0 under reversed order)")
	}
}

func TestReadEnergyDecodesInScenarioOrder(t *testing.T) {
	d, port, clock := newSpeedyTestDriver(2)
	d.sockets[0].LoadActive = true
	d.sockets[1].LoadActive = true
	clock.set(10_000)

	queueValidResponse(port, d.cfg.Commands.GetKWH, make([]byte, 8))
	inst := []byte{
		0x04, 0x5A, 0x00, 0x0F, 0x00, 0x32, 0x00, 0x63, // wire group 1 -> socket 2
		0x04, 0x5A, 0x00, 0x1E, 0x00, 0x64, 0x00, 0x5A, // wire group 2 -> socket 1
	}
	queueValidResponse(port, d.cfg.Commands.GetInstant, inst)

	d.readEnergy()

	s1, s2 := d.sockets[0], d.sockets[1]
	if s1.DVolts != 1114 || s1.MAmps != 30 || s1.DWatts != 100 || s1.PFactor != 90 {
		t.Fatalf("socket 1 = %+v, want {1114,30,100,90}", s1)
	}
	if s2.DVolts != 1114 || s2.MAmps != 15 || s2.DWatts != 50 || s2.PFactor != 99 {
		t.Fatalf("socket 2 = %+v, want {1114,15,50,99}", s2)
	}
}

func TestReadEnergyPFactorFloorsWhenLoadInactive(t *testing.T) {
	d, port, clock := newSpeedyTestDriver(1)
	d.sockets[0].LoadActive = false
	clock.set(0)

	queueValidResponse(port, d.cfg.Commands.GetKWH, make([]byte, 4))
	queueValidResponse(port, d.cfg.Commands.GetInstant, []byte{0x00, 0x64, 0x00, 0x00, 0x00, 0x00, 0x00, 0x32})

	d.readEnergy()
	if d.sockets[0].PFactor != 100 {
		t.Fatalf("pFactor = %d, want 100 (floored, load inactive)", d.sockets[0].PFactor)
	}
}

func TestReadEnergyChannelGating(t *testing.T) {
	d, port, clock := newSpeedyTestDriver(1)
	d.cfg.NumAccChan = 1 // 2 channels total: 0 (load) and 1 (reserved)
	d.sockets[0] = newSocket(1, d.cfg.Sockets[0], d.cfg.numChannels())
	d.sockets[0].LoadActive = false
	clock.set(0)

	readOnce := func() {
		queueValidResponse(port, d.cfg.Commands.GetKWH, make([]byte, 4))
		queueValidResponse(port, d.cfg.Commands.GetInstant, []byte{0x00, 0x64, 0x00, 0x0A, 0x00, 0x05, 0x00, 0x32})
		d.readEnergy()
	}

	readOnce() // channel 1 arms; channel 0 untouched (load inactive)
	if d.sockets[0].accumulator(1, measDWatts).count != 0 {
		t.Fatal("channel 1's first update should only arm the holdoff, not land a sample yet")
	}
	if d.sockets[0].accumulator(0, measDWatts).count != 0 {
		t.Fatal("channel 0 should not have been touched while load is inactive")
	}

	d.sockets[0].LoadActive = true
	clock.advance(5 * time.Second) // clear channel 1's holdoff
	readOnce()                     // channel 0's first update: arms, doesn't land yet; channel 1 lands its first sample
	if d.sockets[0].accumulator(1, measDWatts).count == 0 {
		t.Fatal("channel 1 (application-reserved) should have accrued once its holdoff cleared")
	}
	if d.sockets[0].accumulator(0, measDWatts).count != 0 {
		t.Fatal("channel 0's own first update should only arm its holdoff")
	}

	clock.advance(3 * time.Second) // clear channel 0's holdoff too
	readOnce()
	if d.sockets[0].accumulator(0, measDWatts).count == 0 {
		t.Fatal("channel 0 should start accruing samples once load is active and its holdoff has cleared")
	}
}

func TestTickFactoryResetStopsSchedulerOnce(t *testing.T) {
	d, port, _ := newSpeedyTestDriver(1)
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	d.UseBus(conn)
	sub := conn.Subscribe(bus.T("emtr", "factory_reset"))

	// device_flags bit 0 set => factory reset requested.
	queueValidResponse(port, d.cfg.Commands.GetStatus, []byte{0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x3C, 0x01})

	d.poller.running.Store(true)
	d.poller.timer = time.AfterFunc(time.Hour, func() {})
	d.poller.tick()

	if d.poller.running.Load() {
		t.Fatal("expected the poller to stop itself on a factory-reset request")
	}
	select {
	case msg := <-sub.Channel():
		if _, ok := msg.Payload.(EventFactoryResetRequested); !ok {
			t.Fatalf("payload = %#v, want EventFactoryResetRequested", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a FactoryResetRequested event")
	}
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected second factory-reset event: %#v", msg)
	default:
	}
}
