package emtr

import "emtrd/x/mathx"

// accumulatorHoldoff is how long, after an (re)arm, incoming samples
// are dropped rather than fed into the window. It gives the EMTR time
// to settle after a relay transition before its readings are trusted.
const accumulatorHoldoff = 2000 // milliseconds

// Accumulator is a 4-sample ring-buffered min/max/sum/count window over
// one measurement of one channel. Samples enter the ring first; only a
// sample evicted from the ring contributes to min/max/sum/count, so the
// window stays empty until the fifth sample after a reset pushes the
// first one out of the ring.
type Accumulator struct {
	resetValue uint32 // displayed min/max when no sample has landed yet (100 for pFactor, 0 otherwise)

	ring     [4]uint32
	put, get int
	count    int

	min, max    uint32
	sum         uint64
	sampleCount uint32

	initial        bool
	holdoffUntilMs int64
}

func newAccumulatorWithReset(resetValue uint32) Accumulator {
	return Accumulator{resetValue: resetValue, initial: true}
}

func newAccumulator() Accumulator { return newAccumulatorWithReset(0) }

// update feeds one new sample, per §4.5.
func (a *Accumulator) update(nowMs int64, v uint32) {
	if a.initial {
		a.ring = [4]uint32{}
		a.put, a.get, a.count = 0, 0, 0
		a.sum, a.sampleCount = 0, 0
		a.holdoffUntilMs = nowMs + accumulatorHoldoff
		a.initial = false
	}
	if nowMs < a.holdoffUntilMs {
		return
	}
	if a.count == 4 {
		evicted := a.ring[a.get]
		a.get = (a.get + 1) % 4
		a.count--
		a.absorb(evicted)
	}
	a.ring[a.put] = v
	a.put = (a.put + 1) % 4
	a.count++
}

func (a *Accumulator) absorb(v uint32) {
	if a.sampleCount == 0 {
		a.min, a.max = v, v
	} else {
		a.min = mathx.Min(a.min, v)
		a.max = mathx.Max(a.max, v)
	}
	a.sum += uint64(v)
	a.sampleCount++
}

// AccumulatorSnapshot is the caller-visible summary of one window.
type AccumulatorSnapshot struct {
	Min, Max    uint32
	Avg         uint32
	SampleCount uint32
}

// snapshot returns the current window and, if reset is true, arms the
// window to reinitialize on its next update.
func (a *Accumulator) snapshot(reset bool) AccumulatorSnapshot {
	s := AccumulatorSnapshot{Min: a.resetValue, Max: a.resetValue}
	if a.sampleCount > 0 {
		s.Min, s.Max = a.min, a.max
		s.Avg = uint32(a.sum / uint64(a.sampleCount))
		s.SampleCount = a.sampleCount
	}
	if reset {
		a.reset()
	}
	return s
}

// reset zeroes the window (to resetValue) and arms it without waiting
// for a read.
func (a *Accumulator) reset() {
	a.min, a.max = a.resetValue, a.resetValue
	a.sum, a.sampleCount = 0, 0
	a.initial = true
}

// ChannelSnapshot bundles the four per-measurement windows read_accumulator
// returns together for one channel.
type ChannelSnapshot struct {
	DVolts, MAmps, DWatts, PFactor AccumulatorSnapshot
}
