package emtr

import (
	"time"

	"emtrd/x/timex"
)

// Clock supplies the monotonic millisecond time the accumulator holdoff
// and relay-time bookkeeping are built on. The driver never reads the
// wall clock directly so tests can control elapsed time deterministically.
type Clock interface {
	NowMs() int64
}

// systemClock is the default Clock, backed by the monotonic OS clock:
// it reads Unix milliseconds once at process start and then advances by
// monotonic elapsed time, so wall-clock steps do not move it.
type systemClock struct{}

var (
	clockStart   = time.Now()
	clockStartMs = timex.NowMs()
)

func (systemClock) NowMs() int64 { return clockStartMs + time.Since(clockStart).Milliseconds() }

// SystemClock returns the default, real-time Clock.
func SystemClock() Clock { return systemClock{} }
