package errcode

import (
	"errors"
	"testing"
)

func TestOfPlainCode(t *testing.T) {
	if Of(Timeout) != Timeout {
		t.Fatalf("Of(Timeout) = %v, want Timeout", Of(Timeout))
	}
}

func TestOfNilIsOK(t *testing.T) {
	if Of(nil) != OK {
		t.Fatalf("Of(nil) = %v, want OK", Of(nil))
	}
}

func TestOfUnknownErrorIsError(t *testing.T) {
	if Of(errors.New("boom")) != Error {
		t.Fatalf("Of(plain error) = %v, want Error", Of(errors.New("boom")))
	}
}

func TestNewCarriesCodeOpAndMessage(t *testing.T) {
	e := New(BadFrame, "framer.read", "short response")
	if e.Code() != BadFrame {
		t.Fatalf("Code() = %v, want BadFrame", e.Code())
	}
	want := "framer.read: bad_frame: short response"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("deadline exceeded")
	e := Wrap(Io, "serialport.read", cause)
	if !errors.Is(e, cause) {
		t.Fatal("Wrap should preserve the cause for errors.Is/Unwrap")
	}
	if Of(e) != Io {
		t.Fatalf("Of(wrapped) = %v, want Io", Of(e))
	}
}

func TestIsMatchesCode(t *testing.T) {
	e := New(Link, "cmdengine.send", "no response after retries")
	if !Is(e, Link) {
		t.Fatal("Is(e, Link) should be true")
	}
	if Is(e, Timeout) {
		t.Fatal("Is(e, Timeout) should be false")
	}
}

func TestWrapNilCauseLeavesMessageEmpty(t *testing.T) {
	e := Wrap(BadState, "runmode.enter", nil)
	if e.Msg != "" {
		t.Fatalf("Msg = %q, want empty when cause is nil", e.Msg)
	}
	if e.Unwrap() != nil {
		t.Fatal("Unwrap() should be nil when no cause was given")
	}
}
