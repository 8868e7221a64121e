package emtr

// Wire-level framing constants and pure encode/checksum helpers (§3,
// §6). Nothing in this file touches I/O; Framer in framer.go is the
// only thing that reads or writes bytes.
const (
	sop        = 0x1B
	eop        = 0x0A
	genericAck = 0xF0

	cmdFrameLen    = 8
	respHeaderLen  = 3
	respTrailerLen = 2
)

// buildCommandFrame encodes the fixed 8-byte outbound command frame:
// SOP, CMD, P0..P3, CKSUM, EOP, where CKSUM = XOR(CMD, P0..P3).
func buildCommandFrame(cmd byte, payload [4]byte) [cmdFrameLen]byte {
	var f [cmdFrameLen]byte
	f[0] = sop
	f[1] = cmd
	copy(f[2:6], payload[:])
	f[6] = xor(cmd, payload[:])
	f[7] = eop
	return f
}

// xor XORs b with every byte in rest, in order.
func xor(b byte, rest []byte) byte {
	for _, r := range rest {
		b ^= r
	}
	return b
}

// responseChecksum computes the trailer checksum over CMD, LEN and the
// payload bytes, per §3: CKSUM = XOR(CMD, LEN, payload...).
func responseChecksum(cmd, length byte, payload []byte) byte {
	ck := xor(cmd, []byte{length})
	return xor(ck, payload)
}
