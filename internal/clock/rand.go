package clock

import (
	"math/rand/v2"
	"time"
)

// SystemRand implements acd.Rand using the process-global math/rand/v2
// source, which is already safe for concurrent use.
type SystemRand struct{}

func (SystemRand) ProbeDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
