package acd

import "time"

// TimerHandle identifies a single scheduled timer so it can be cancelled.
// Handles are opaque and only meaningful to the Scheduler that issued
// them. The zero value is reserved to mean "no timer"; a real Scheduler
// must never hand out 0 as a live handle.
type TimerHandle uint64

// Scheduler is the injected timer collaborator. A Host never reads the
// wall clock or calls time.AfterFunc directly — every delay, including
// randomized probe jitter, goes through here so tests can drive the
// state machine without sleeping. See internal/clock for the production
// implementation and internal/clock/clocktest for a deterministic fake.
type Scheduler interface {
	// After schedules fire to be sent on the channel returned by Fired
	// once d has elapsed, and returns a handle that Cancel can use to
	// suppress that fire if it hasn't happened yet.
	After(d time.Duration) TimerHandle

	// Cancel suppresses a pending timer. Cancelling an already-fired or
	// already-cancelled handle is a no-op. Because of the generation
	// tagging described in internal/clock, a Cancel racing a fire that
	// has already been queued on the Fired channel is resolved safely:
	// the stale fire is dropped when consumed, not when cancelled.
	Cancel(h TimerHandle)

	// Fired delivers the handle of each timer as it fires, in fire
	// order. The run loop calls it on every iteration, so it must
	// return the same channel on every call.
	Fired() <-chan TimerHandle
}

// Rand is the injected source of randomized probe delay, RFC 5227 §1.1's
// uniform distribution over [ProbeMin, ProbeMax). Production code backs
// this with math/rand/v2; tests back it with a fixed or scripted
// sequence to make retry timing deterministic.
type Rand interface {
	// ProbeDelay returns a value in [min, max).
	ProbeDelay(min, max time.Duration) time.Duration
}
