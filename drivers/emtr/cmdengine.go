package emtr

import (
	"time"

	"emtrd/errcode"
)

const (
	commandMaxAttempts = 3
	commandRetryDelay  = 100 * time.Millisecond
)

// command issues cmd with payload, awaiting a response under the
// driver lock, per §4.2. retbuf nil means "expect the generic ACK";
// non-nil means "expect CMD==cmd and copy its payload here". It
// acquires the lock itself, so callers holding it already (the poll
// scheduler, mid-tick) reenter for free via the recursive mutex.
func (d *Driver) command(cmd byte, payload [4]byte, retbuf []byte, opts commandOptions) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= commandMaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(commandRetryDelay)
			if err := d.port.FlushInput(); err != nil {
				lastErr = err
			}
		}
		if attempt == commandMaxAttempts {
			if err := d.hardReset(d.device.RunMode); err != nil {
				lastErr = err
				continue
			}
		}

		if err := d.framer.WriteCommand(cmd, payload); err != nil {
			lastErr = err
			continue
		}
		if opts.noResponse {
			d.setCommUp(true)
			return 0, nil
		}
		if !opts.parseResponse {
			d.setCommUp(true)
			return 0, nil
		}
		n, err := d.framer.ReadResponse(cmd, retbuf, opts.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		d.setCommUp(true)
		return n, nil
	}

	d.setCommUp(false)
	if lastErr == nil {
		lastErr = errcode.New(errcode.Link, "command", "retry budget exhausted")
	}
	return 0, errcode.Wrap(errcode.Link, "command", lastErr)
}

// setCommUp updates comm_up and fires a one-shot CommUp/CommDown event
// exactly on the boundary transition, per §7's propagation policy.
func (d *Driver) setCommUp(up bool) {
	if d.device.CommUp == up {
		return
	}
	d.device.CommUp = up
	if up {
		d.logger.Printf("emtr: link up")
		d.publish(EventCommUp{})
	} else {
		d.logger.Printf("emtr: link down, reset_count=%d", d.device.ResetCount)
		d.publish(EventCommDown{})
	}
}
