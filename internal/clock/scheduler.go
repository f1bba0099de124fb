// Package clock provides the production Scheduler and Rand adapters
// pkg/acd.Host is configured with outside of tests: a real one-shot
// timer wheel built on time.AfterFunc, and a jitter source built on
// math/rand/v2.
package clock

import (
	"sync"
	"time"

	"github.com/athena-net/acd-host/pkg/acd"
)

// Scheduler is a acd.Scheduler backed by time.AfterFunc. Handles are
// generation-tagged implicitly: Cancel and a concurrent fire both take
// the scheduler's mutex before touching the pending-timer map, so
// whichever runs first determines whether the fire is delivered or
// dropped — a cancelled timer's fire never reaches Fired().
type Scheduler struct {
	mu         sync.Mutex
	nextHandle uint64
	pending    map[acd.TimerHandle]*time.Timer
	fired      chan acd.TimerHandle
}

// New returns a ready-to-use Scheduler. fired is buffered so a burst of
// timers expiring together doesn't stall the AfterFunc goroutines that
// deliver them.
func New() *Scheduler {
	return &Scheduler{
		nextHandle: 1,
		pending:    make(map[acd.TimerHandle]*time.Timer),
		fired:      make(chan acd.TimerHandle, 32),
	}
}

func (s *Scheduler) After(d time.Duration) acd.TimerHandle {
	s.mu.Lock()
	h := acd.TimerHandle(s.nextHandle)
	s.nextHandle++
	s.mu.Unlock()

	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()
		if live {
			s.fired <- h
		}
	})

	s.mu.Lock()
	s.pending[h] = t
	s.mu.Unlock()
	return h
}

func (s *Scheduler) Cancel(h acd.TimerHandle) {
	s.mu.Lock()
	t, live := s.pending[h]
	delete(s.pending, h)
	s.mu.Unlock()
	if live {
		t.Stop()
	}
}

func (s *Scheduler) Fired() <-chan acd.TimerHandle {
	return s.fired
}
