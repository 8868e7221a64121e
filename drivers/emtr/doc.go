// Package emtr is a driver for the EMTR energy-meter co-processor found
// on a family of networked smart-outlet devices. The EMTR is a separate
// microcontroller reachable over a half-duplex serial line; it switches
// relays, samples per-socket voltage/current/power, and reports
// device-wide health (temperature, uptime, device flags).
//
// The driver owns the serial port and the two GPIO lines (EMTR reset,
// and the UART TX pin during mode-switch) outright; nothing else may
// touch them. A single Driver value is returned by Init and is safe for
// concurrent use by multiple goroutines — all public methods take the
// same reentrant lock a background poll loop uses to keep cached state
// current.
package emtr
