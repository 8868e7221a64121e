package emtr

import (
	"bytes"
	"runtime"
	"strconv"
)

// recursiveMutex is a goroutine-affine reentrant lock. The goroutine
// already holding it may call Lock again without blocking; it must
// call Unlock the same number of times to release it. This exists
// because public methods (SetRelay, Command, UpgradeFirmware) and the
// poll scheduler mid-tick hold the driver lock and then call
// command(), which takes it again on the same goroutine — ordinary
// sync.Mutex would deadlock that goroutine against itself.
type recursiveMutex struct {
	sem   chan struct{}
	state struct {
		owner int64
		depth int
	}
	guard chan struct{} // 1-buffered, protects state without a second sync.Mutex
}

func newRecursiveMutex() *recursiveMutex {
	m := &recursiveMutex{
		sem:   make(chan struct{}, 1),
		guard: make(chan struct{}, 1),
	}
	m.guard <- struct{}{}
	return m
}

func (m *recursiveMutex) Lock() {
	id := goroutineID()

	<-m.guard
	if m.state.depth > 0 && m.state.owner == id {
		m.state.depth++
		m.guard <- struct{}{}
		return
	}
	m.guard <- struct{}{}

	m.sem <- struct{}{}

	<-m.guard
	m.state.owner = id
	m.state.depth = 1
	m.guard <- struct{}{}
}

func (m *recursiveMutex) Unlock() {
	id := goroutineID()

	<-m.guard
	defer func() { m.guard <- struct{}{} }()

	if m.state.depth == 0 || m.state.owner != id {
		panic("emtr: unlock of lock not held by calling goroutine")
	}
	m.state.depth--
	if m.state.depth == 0 {
		<-m.sem
	}
}

// goroutineID extracts the calling goroutine's numeric ID from its own
// stack trace header ("goroutine 123 [running]: ..."). It is the only
// way to obtain goroutine identity without threading one through every
// call in the public API.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		panic("emtr: cannot parse goroutine id: " + err.Error())
	}
	return id
}
