package emtr

import (
	"bytes"
	"testing"
)

func TestBuildCommandFrame(t *testing.T) {
	got := buildCommandFrame(0x03, [4]byte{0, 0, 0, 0})
	want := []byte{0x1B, 0x03, 0x00, 0x00, 0x00, 0x00, 0x03, 0x0A}
	if !bytes.Equal(got[:], want) {
		t.Fatalf("buildCommandFrame(0x03, zero) = % X, want % X", got, want)
	}
}

func TestBuildCommandFrameInvariants(t *testing.T) {
	for cmd := 0; cmd < 256; cmd += 17 {
		for p0 := 0; p0 < 256; p0 += 53 {
			payload := [4]byte{byte(p0), byte(p0 + 1), byte(p0 + 2), byte(p0 + 3)}
			f := buildCommandFrame(byte(cmd), payload)
			if f[0] != sop || f[7] != eop {
				t.Fatalf("frame %X missing sop/eop", f)
			}
			if f[6] != xor(f[1], f[2:6]) {
				t.Fatalf("frame %X: checksum invariant violated", f)
			}
		}
	}
}

func TestResponseChecksum(t *testing.T) {
	payload := []byte{0x04, 0x5A, 0x00, 0x0F}
	ck := responseChecksum(0x03, byte(len(payload)), payload)
	want := xor(0x03, append([]byte{byte(len(payload))}, payload...))
	if ck != want {
		t.Fatalf("responseChecksum = %X, want %X", ck, want)
	}
}
