package errcode

import "errors"

// Code is a stable, caller-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes. These are the error kinds the EMTR driver surfaces to
// its callers; nothing above the driver boundary should need a richer
// taxonomy than this.
const (
	OK         Code = "ok"
	InvalidArg Code = "invalid_arg"
	BadState   Code = "bad_state"
	NoMemory   Code = "no_memory"
	Timeout    Code = "timeout"
	Io         Code = "io"
	BadFrame   Code = "bad_frame"
	Link       Code = "link"
	BadCrc     Code = "bad_crc"
	Error      Code = "error" // generic fallback
)

// E is an optional wrapper when we want to keep context and a cause
// alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := e.Op
	if s != "" {
		s += ": "
	}
	s += string(e.C)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New returns an *E with the given code, op and message.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap returns an *E with the given code and op, carrying cause as Err.
func Wrap(c Code, op string, cause error) *E {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &E{C: c, Op: op, Msg: msg, Err: cause}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries the given Code (directly or via Unwrap).
func Is(err error, c Code) bool {
	if err == nil {
		return c == OK
	}
	for ; err != nil; err = errors.Unwrap(err) {
		if Of(err) == c {
			return true
		}
	}
	return false
}
