package timerwheel

import "time"

// skewToleranceMS is the maximum disagreement, in milliseconds, between a
// caller-supplied now and the wheel's own tick counter before the skew
// policy kicks in.
const skewToleranceMS = 20

// SkewPolicy selects which of {caller, tick-counter} wins when they disagree
// by more than skewToleranceMS. The policy is fixed per Clock when NewClock
// is called; it is not chosen per call.
type SkewPolicy int

const (
	// TrustCaller offsets future tick readings to match the caller's now.
	TrustCaller SkewPolicy = iota
	// TrustTickCounter substitutes the tick counter for the caller's now.
	TrustTickCounter
)

// Clock converts wall-clock time.Time into the wheel's 32-bit tick space,
// applying the configured skew policy.
type Clock struct {
	policy T

	start  time.Time
	offset int64 // ms, added to the wall-clock reading under TrustCaller
}

type T = SkewPolicy

// NewClock returns a Clock anchored at the current wall-clock time.
func NewClock(policy SkewPolicy) *Clock {
	return &Clock{policy: policy, start: time.Now()}
}

// Now returns the current tick, reconciling the wheel's own elapsed-time
// reading against callerNow per the configured skew policy.
func (c *Clock) Now(callerNow time.Time) Tick {
	tickMS := time.Since(c.start).Milliseconds() + c.offset
	callerMS := callerNow.Sub(c.start).Milliseconds()

	diff := callerMS - tickMS
	if diff < 0 {
		diff = -diff
	}
	if diff > skewToleranceMS && c.policy == TrustCaller {
		// Re-anchor: future readings of time.Since(c.start) should track
		// the caller's clock instead of our own elapsed-time counter.
		c.offset += callerMS - tickMS
		tickMS = callerMS
	}
	// Under TrustTickCounter, tickMS is returned unmodified regardless of
	// the caller's disagreement.
	return Tick(uint32(tickMS))
}
