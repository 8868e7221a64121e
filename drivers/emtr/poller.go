package emtr

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"emtrd/x/timex"
)

// pollInterval is the Poll Scheduler's tick period, 10 Hz per §4.4.
var pollInterval = time.Duration(timex.PeriodFromHz(10))

const (
	heavyReadPeriod = 10 // every 10th tick reads energy, per §4.4
	queueDepth      = 16
)

type pollMsg int

const (
	msgTick pollMsg = iota
	msgPause
	msgResume
)

// poller is the Poll Scheduler: a single cooperative task consuming a
// bounded queue fed by a self-rearming timer. It is its own small
// actor, separate from Driver's recursive lock, except for the moment
// each message is handled, which runs under that lock like any other
// command caller.
type poller struct {
	d *Driver

	queue  chan pollMsg
	stopCh chan struct{}
	doneCh chan struct{}
	timer  *time.Timer

	running atomic.Bool
	paused  atomic.Bool

	sampleCounter int // poller-goroutine-only
}

func newPoller(d *Driver) *poller {
	return &poller{d: d, queue: make(chan pollMsg, queueDepth)}
}

// start is safe to call while holding the driver lock: it only spawns
// a goroutine and arms a timer, neither of which blocks.
func (p *poller) start() {
	if p.running.Load() {
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.running.Store(true)
	p.rearm()
	go p.loop()
}

// stop waits for the scheduler task to exit. It must be called without
// the driver lock held: a tick in flight needs that lock to finish.
func (p *poller) stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.stopCh)
	<-p.doneCh
}

func (p *poller) pause()  { p.enqueue(msgPause) }
func (p *poller) resume() { p.enqueue(msgResume) }

func (p *poller) enqueue(m pollMsg) {
	select {
	case p.queue <- m:
	default:
	}
}

func (p *poller) rearm() {
	p.timer = time.AfterFunc(pollInterval, func() { p.enqueue(msgTick) })
}

func (p *poller) loop() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.queue:
			switch msg {
			case msgPause:
				p.paused.Store(true)
			case msgResume:
				p.paused.Store(false)
			case msgTick:
				p.tick()
			}
		}
	}
}

// tick implements §4.4 step by step, under the driver lock.
func (p *poller) tick() {
	d := p.d
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.device.RunMode == Bootloader {
		// Keep the EMTR's bootloader watchdog quiet; the response (if
		// any) is intentionally not interpreted, per §9.
		_, _ = d.rawGetState()
		p.rearmIfRunning()
		return
	}

	status := make([]byte, len(d.sockets)+7) // n socket-flag bytes + 2-byte temp + 4-byte uptime + 1 optional device_flags
	n, err := d.command(d.cfg.Commands.GetStatus, [4]byte{}, status, defaultCommandOptions(&d.cfg))
	if err != nil {
		p.rearmIfRunning()
		return
	}
	d.applyStatus(status[:n])

	factoryReset := d.device.DeviceFlags&0x01 != 0

	if !p.paused.Load() {
		p.sampleCounter++
		if p.sampleCounter >= heavyReadPeriod {
			p.sampleCounter = 0
			d.readEnergy()
		}
	}

	if factoryReset {
		d.logger.Printf("emtr: factory reset requested, stopping scheduler")
		p.stopOneShot()
		d.publish(EventFactoryResetRequested{})
		return
	}
	p.rearmIfRunning()
}

func (p *poller) rearmIfRunning() {
	if p.running.Load() {
		p.rearm()
	}
}

// stopOneShot halts the timer without waiting for this goroutine to
// exit (it *is* this goroutine); used when a factory-reset request
// must stop polling exactly once, from inside tick() itself.
func (p *poller) stopOneShot() {
	p.running.Store(false)
	if p.timer != nil {
		p.timer.Stop()
	}
}

// applyStatus decodes a GetStatus response (§6) and applies
// change-of-state logic (§4.5) to every socket.
func (d *Driver) applyStatus(resp []byte) {
	n := len(d.sockets)
	if len(resp) < n+6 {
		return
	}
	flags := resp[:n]
	d.device.TemperatureC = binary.BigEndian.Uint16(resp[n : n+2])
	d.device.UptimeSeconds = binary.BigEndian.Uint32(resp[n+2 : n+6])
	d.device.DeviceFlags = 0
	if len(resp) >= n+7 {
		d.device.DeviceFlags = resp[n+6]
	}

	for i, s := range d.sockets {
		wireIdx := i
		if d.cfg.reversed() {
			wireIdx = n - 1 - i
		}
		bits := flags[wireIdx]
		d.applySocketStatus(s, bits&0x04 != 0, bits&0x08 != 0, bits&0x10 != 0, bits&0x20 != 0)
	}
}

// applySocketStatus runs the change-of-state policy (§4.5) for one
// socket's four tracked booleans: relay, plug, load and overload.
func (d *Driver) applySocketStatus(s *Socket, relay, plug, load, overload bool) {
	if changed, v := s.relayTracker.observe(relay); changed {
		s.RelayActive = v
		s.relayChangedAtMs = d.clock.NowMs()
		d.framer.RequestHoldoff()
		if v {
			d.publish(EventRelayOn{Socket: s.Num})
		} else {
			d.publish(EventRelayOff{Socket: s.Num})
		}
	} else {
		s.RelayActive = v
	}

	if changed, v := s.plugTracker.observe(plug); changed {
		s.PlugDetected = v
		if v {
			d.publish(EventPlugInserted{Socket: s.Num})
		} else {
			d.publish(EventPlugRemoved{Socket: s.Num})
		}
	} else {
		s.PlugDetected = v
	}

	if changed, v := s.loadTracker.observe(load); changed {
		s.LoadActive = v
		if v {
			d.publish(EventLoadDetected{Socket: s.Num})
		} else {
			d.publish(EventLoadRemoved{Socket: s.Num})
		}
	} else {
		s.LoadActive = v
	}

	if changed, v := s.overloadTracker.observe(overload); changed {
		s.Overload = v
		if v {
			d.publish(EventOverload{Socket: s.Num})
		}
	} else {
		s.Overload = v
	}
}

// readEnergy issues GetKWH and GetInstant and feeds every applicable
// accumulator channel, every 10th tick (§4.4 step 6).
func (d *Driver) readEnergy() {
	n := len(d.sockets)

	kwh := make([]byte, 4*n)
	if _, err := d.command(d.cfg.Commands.GetKWH, [4]byte{}, kwh, defaultCommandOptions(&d.cfg)); err == nil {
		for i, s := range d.sockets {
			wireIdx := i
			if d.cfg.reversed() {
				wireIdx = n - 1 - i
			}
			s.DWattHours = uint64(binary.BigEndian.Uint32(kwh[wireIdx*4 : wireIdx*4+4]))
		}
	}

	inst := make([]byte, 8*n)
	if _, err := d.command(d.cfg.Commands.GetInstant, [4]byte{}, inst, defaultCommandOptions(&d.cfg)); err != nil {
		return
	}
	now := d.clock.NowMs()
	for i, s := range d.sockets {
		wireIdx := i
		if d.cfg.reversed() {
			wireIdx = n - 1 - i
		}
		off := wireIdx * 8
		dVolts := binary.BigEndian.Uint16(inst[off : off+2])
		mAmps := binary.BigEndian.Uint16(inst[off+2 : off+4])
		dWatts := binary.BigEndian.Uint16(inst[off+4 : off+6])
		pFactor := binary.BigEndian.Uint16(inst[off+6 : off+8])

		if !s.LoadActive {
			pFactor = 100
		}

		s.DVolts, s.MAmps, s.DWatts, s.PFactor = dVolts, mAmps, dWatts, pFactor

		// Channel 0 is the device-internal load channel: it only accrues
		// while something is actually drawing power. Channels 1+ are
		// application-reserved and accrue on every heavy-read tick.
		if s.LoadActive {
			s.accumulator(0, measDVolts).update(now, uint32(dVolts))
			s.accumulator(0, measMAmps).update(now, uint32(mAmps))
			s.accumulator(0, measDWatts).update(now, uint32(dWatts))
			s.accumulator(0, measPFactor).update(now, uint32(pFactor))
		}

		for ch := 1; ch < d.cfg.numChannels(); ch++ {
			s.accumulator(ch, measDVolts).update(now, uint32(dVolts))
			s.accumulator(ch, measMAmps).update(now, uint32(mAmps))
			s.accumulator(ch, measDWatts).update(now, uint32(dWatts))
			s.accumulator(ch, measPFactor).update(now, uint32(pFactor))
		}
	}
}
