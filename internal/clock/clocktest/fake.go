// Package clocktest provides deterministic stand-ins for acd.Scheduler
// and acd.Rand so pkg/acd tests can drive the state machine without
// sleeping or depending on actual timer jitter.
package clocktest

import (
	"sync"
	"time"

	"github.com/athena-net/acd-host/pkg/acd"
)

// FakeScheduler is a virtual-clock acd.Scheduler: nothing fires on its
// own, a test calls Advance to move time forward and synchronously
// deliver every timer whose deadline has passed, in deadline order.
type FakeScheduler struct {
	mu         sync.Mutex
	now        time.Duration
	nextHandle uint64
	pending    map[acd.TimerHandle]time.Duration // handle -> deadline
	fired      chan acd.TimerHandle
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		nextHandle: 1,
		pending:    make(map[acd.TimerHandle]time.Duration),
		fired:      make(chan acd.TimerHandle, 64),
	}
}

func (f *FakeScheduler) After(d time.Duration) acd.TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := acd.TimerHandle(f.nextHandle)
	f.nextHandle++
	f.pending[h] = f.now + d
	return h
}

func (f *FakeScheduler) Cancel(h acd.TimerHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, h)
}

func (f *FakeScheduler) Fired() <-chan acd.TimerHandle {
	return f.fired
}

// Advance moves the fake clock forward by d and delivers, in deadline
// order, every pending timer whose deadline is now at or before the new
// time. Callers must leave room in the host's run loop to consume
// Fired() between Advance calls (the host's select loop does this for
// free as soon as it's running).
func (f *FakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	type due struct {
		h        acd.TimerHandle
		deadline time.Duration
	}
	var ready []due
	for h, deadline := range f.pending {
		if deadline <= f.now {
			ready = append(ready, due{h, deadline})
		}
	}
	for _, r := range ready {
		delete(f.pending, r.h)
	}
	f.mu.Unlock()

	for i := 0; i < len(ready); i++ {
		for j := i + 1; j < len(ready); j++ {
			if ready[j].deadline < ready[i].deadline {
				ready[i], ready[j] = ready[j], ready[i]
			}
		}
	}
	for _, r := range ready {
		f.fired <- r.h
	}
}

// PendingCount reports how many timers are currently scheduled. Tests
// use it to assert the "at most one pending timer" invariant.
func (f *FakeScheduler) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// FixedRand always returns Delay, ignoring the requested range, so
// probe/announce timing in a test is exact instead of merely bounded.
type FixedRand struct {
	Delay time.Duration
}

func (r FixedRand) ProbeDelay(min, max time.Duration) time.Duration {
	return r.Delay
}
