package emtr

import (
	"time"

	"emtrd/errcode"
	"emtrd/x/mathx"
)

// modeSwitchSettle is the fixed dwell around asserting/releasing RESET
// during the mode-entry GPIO sequence.
const modeSwitchSettle = 10 * time.Millisecond

// xmodemBlockTimeout bounds how long the XMODEM sender waits for a
// per-block ACK/NAK before retrying.
const xmodemBlockTimeout = 3 * time.Second

// enterMode drives the EMTR into target via the out-of-band reset-pin
// plus TX-pin sequence (§4.3), then verifies the mode by querying
// GetState directly (not through command(), to avoid its own hard-reset
// recovery racing this one). On success it updates RunMode and the
// corresponding version field.
func (d *Driver) enterMode(target RunMode) error {
	_ = d.port.Drain() // best-effort; goserial has no drain deadline to honor the <=200ms guidance with

	if err := d.reset.Set(false); err != nil {
		return errcode.Wrap(errcode.Io, "runmode.enter", err)
	}
	// The TX pin is already a plain GPIO output in this driver's model
	// (see gpio.go); on real hardware this is the moment the UART
	// peripheral's TX function is muxed off the pin and back on below.
	if err := d.tx.Set(target == Application); err != nil {
		return errcode.Wrap(errcode.Io, "runmode.enter", err)
	}
	time.Sleep(modeSwitchSettle)

	if err := d.reset.Set(true); err != nil {
		return errcode.Wrap(errcode.Io, "runmode.enter", err)
	}
	time.Sleep(modeSwitchSettle)

	time.Sleep(d.cfg.ResetDelay)
	if err := d.port.FlushInput(); err != nil {
		return errcode.Wrap(errcode.Io, "runmode.enter", err)
	}

	mode, ver, err := d.rawGetState()
	if err != nil {
		return errcode.Wrap(errcode.BadState, "runmode.enter", err)
	}
	if mode != target {
		return errcode.New(errcode.BadState, "runmode.enter", "EMTR reported unexpected run mode")
	}
	d.logger.Printf("emtr: entered %s mode, version %s", mode, ver)
	d.device.RunMode = mode
	if mode == Bootloader {
		d.device.BLVersion = ver
	} else {
		d.device.FWVersion = ver
	}
	return nil
}

// rawGetState issues a single GetState request directly through the
// Framer, bypassing the command engine's own retry/hard-reset loop.
func (d *Driver) rawGetState() (RunMode, Version, error) {
	if err := d.framer.WriteCommand(d.cfg.Commands.GetState, [4]byte{}); err != nil {
		return NotRunning, Version{}, err
	}
	var resp [4]byte
	n, err := d.framer.ReadResponse(d.cfg.Commands.GetState, resp[:], d.cfg.CommandTimeout)
	if err != nil {
		return NotRunning, Version{}, err
	}
	if n < 4 {
		return NotRunning, Version{}, errcode.New(errcode.BadFrame, "runmode.getstate", "short response")
	}
	if resp[0] == 'B' {
		return Bootloader, Version{Major: resp[1], Minor: resp[2], Patch: resp[3]}, nil
	}
	if resp[0] != d.cfg.ApplicationModeTag {
		return NotRunning, Version{}, errcode.New(errcode.BadState, "runmode.getstate", "unrecognized mode tag")
	}
	return Application, Version{Major: resp[1], Minor: resp[2], Patch: resp[3]}, nil
}

// hardReset is the Command Engine's recovery step on its final retry:
// reset into whatever mode the EMTR is currently believed to be in,
// counting it against reset_count.
func (d *Driver) hardReset(target RunMode) error {
	if target == NotRunning {
		target = Application
	}
	if err := d.enterMode(target); err != nil {
		return err
	}
	d.device.ResetCount++
	return nil
}

// probeRunMode is called once from Init: it tries a GetState without
// assuming a mode, and falls back to a full application-mode entry
// sequence if the EMTR doesn't answer cold.
func (d *Driver) probeRunMode() error {
	if mode, ver, err := d.rawGetState(); err == nil {
		d.device.RunMode = mode
		if mode == Bootloader {
			d.device.BLVersion = ver
		} else {
			d.device.FWVersion = ver
		}
		return nil
	}
	return d.enterMode(Application)
}

// UpgradeFirmware validates image, then runs the firmware-upgrade
// protocol end to end, per §4.3: stop the scheduler, enter bootloader,
// kick off XMODEM, release the lock for the transfer body, resume
// application mode, and restart the scheduler. The lock is held at
// both ends and released only for the XMODEM transfer itself.
func (d *Driver) UpgradeFirmware(image []byte) error {
	header, _, err := ParseFirmwareImage(image, d.cfg.FirmwareType)
	if err != nil {
		return err
	}
	payload := image[:firmwareHeaderLen+int(header.DataLen)]

	// poller.stop waits for any in-flight tick, which itself needs the
	// driver lock; it must run before Lock below to avoid waiting on a
	// lock this call already holds.
	d.poller.stop()

	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return errcode.New(errcode.BadState, "firmware.upgrade", "driver is closed")
	}

	if err := d.enterMode(Bootloader); err != nil {
		d.poller.start()
		d.lock.Unlock()
		return err
	}
	opts := defaultCommandOptions(&d.cfg)
	opts.noResponse = true
	if _, err := d.command(d.cfg.Commands.StartXmodem, [4]byte{}, nil, opts); err != nil {
		d.poller.start()
		d.lock.Unlock()
		return err
	}
	d.lock.Unlock()

	blocks := mathx.CeilDiv(uint32(len(payload)), xmodemBlk)
	d.logger.Printf("emtr: xmodem transfer starting, %d bytes in %d blocks", len(payload), blocks)
	xmerr := sendXmodemCRC(d.port, payload, xmodemBlockTimeout)
	if xmerr != nil {
		d.logger.Printf("emtr: xmodem transfer failed: %v", xmerr)
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if xmerr != nil {
		d.poller.start()
		return xmerr
	}
	if err := d.enterMode(Application); err != nil {
		d.poller.start()
		return err
	}
	d.poller.start()
	return nil
}
