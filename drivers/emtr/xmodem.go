package emtr

import (
	"time"

	"emtrd/errcode"
)

const (
	xmodemSOH  = 0x01
	xmodemEOT  = 0x04
	xmodemACK  = 0x06
	xmodemNAK  = 0x15
	xmodemCAN  = 0x18
	xmodemCRC  = 'C'
	xmodemBlk  = 128
	xmodemMaxRetry = 8
)

// xmodemLink is the byte transport an XMODEM-CRC sender needs: it is
// satisfied by Framer's underlying SerialPort directly, bypassing the
// command-frame layer entirely for the duration of the transfer.
type xmodemLink interface {
	Write(p []byte) (int, error)
	Read(p []byte, timeout time.Duration) (int, error)
}

// sendXmodemCRC transfers data to the receiver using the 128-byte-block
// XMODEM-CRC variant described in §6: an initial wait for a 'C' (or NAK,
// checksum mode, unsupported here since the EMTR bootloader always
// drives CRC mode) start byte, then one SOH-framed block per 128 bytes
// (the final block is NUL-padded), each retried up to 8 times, and a
// two-EOT close.
func sendXmodemCRC(link xmodemLink, data []byte, blockTimeout time.Duration) error {
	if err := xmodemAwaitStart(link, blockTimeout); err != nil {
		return err
	}

	block := byte(1)
	for off := 0; off < len(data); off += xmodemBlk {
		end := off + xmodemBlk
		var payload [xmodemBlk]byte
		if end > len(data) {
			end = len(data)
		}
		copy(payload[:], data[off:end])

		if err := xmodemSendBlock(link, block, payload, blockTimeout); err != nil {
			xmodemAbort(link)
			return err
		}
		block++
	}
	return xmodemClose(link, blockTimeout)
}

func xmodemAwaitStart(link xmodemLink, timeout time.Duration) error {
	buf := make([]byte, 1)
	n, err := link.Read(buf, timeout)
	if err != nil || n == 0 {
		return errcode.New(errcode.Link, "xmodem.start", "no response from receiver")
	}
	switch buf[0] {
	case xmodemCRC:
		return nil
	case xmodemNAK:
		return errcode.New(errcode.Link, "xmodem.start", "receiver requested checksum mode, unsupported")
	case xmodemCAN:
		return errcode.New(errcode.Link, "xmodem.start", "receiver cancelled transfer")
	default:
		return errcode.New(errcode.Link, "xmodem.start", "unexpected start byte")
	}
}

func xmodemSendBlock(link xmodemLink, block byte, payload [xmodemBlk]byte, timeout time.Duration) error {
	frame := make([]byte, 0, 3+xmodemBlk+2)
	frame = append(frame, xmodemSOH, block, ^block)
	frame = append(frame, payload[:]...)
	crc := crc16CCITT(payload[:])
	frame = append(frame, byte(crc>>8), byte(crc))

	for attempt := 0; attempt < xmodemMaxRetry; attempt++ {
		if _, err := link.Write(frame); err != nil {
			return errcode.Wrap(errcode.Io, "xmodem.block", err)
		}
		ack, err := xmodemReadReply(link, timeout)
		if err != nil {
			continue
		}
		switch ack {
		case xmodemACK:
			return nil
		case xmodemCAN:
			return errcode.New(errcode.Link, "xmodem.block", "receiver cancelled transfer")
		default:
			continue
		}
	}
	return errcode.New(errcode.Link, "xmodem.block", "retry budget exhausted")
}

func xmodemReadReply(link xmodemLink, timeout time.Duration) (byte, error) {
	buf := make([]byte, 1)
	n, err := link.Read(buf, timeout)
	if err != nil || n == 0 {
		return 0, errcode.New(errcode.Timeout, "xmodem.reply", "no reply")
	}
	return buf[0], nil
}

// xmodemClose sends the two-EOT end-of-stream sequence: the first EOT
// is expected to elicit a NAK, the second an ACK.
func xmodemClose(link xmodemLink, timeout time.Duration) error {
	if _, err := link.Write([]byte{xmodemEOT}); err != nil {
		return errcode.Wrap(errcode.Io, "xmodem.close", err)
	}
	if _, err := xmodemReadReply(link, timeout); err != nil {
		return err
	}
	if _, err := link.Write([]byte{xmodemEOT}); err != nil {
		return errcode.Wrap(errcode.Io, "xmodem.close", err)
	}
	reply, err := xmodemReadReply(link, timeout)
	if err != nil {
		return err
	}
	if reply != xmodemACK {
		return errcode.New(errcode.Link, "xmodem.close", "final EOT not acknowledged")
	}
	return nil
}

// xmodemAbort sends CAN five times, per convention, to make sure the
// receiver notices even if one or two bytes are lost.
func xmodemAbort(link xmodemLink) {
	can := [5]byte{xmodemCAN, xmodemCAN, xmodemCAN, xmodemCAN, xmodemCAN}
	_, _ = link.Write(can[:])
}

// crc16CCITT computes the CRC-16/CCITT (poly 0x1021, init 0) checksum
// XMODEM-CRC blocks are trailed with.
func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
