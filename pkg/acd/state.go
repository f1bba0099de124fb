package acd

// State is one of the four RFC 5227 lifecycle states, plus the implicit
// "unstarted" state used before the first Start and after the host
// abandons a candidate (conflict exhaustion, defense loss, or an
// explicit Stop).
type State int

const (
	// StateIdle is both "never started" and the quiescent state the host
	// returns to after a lost defense, an abandoned probe, or Stop.
	StateIdle State = iota
	StateProbe
	StateAnnounce
	StateMonitor
	StateDefend
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateProbe:
		return "PROBE"
	case StateAnnounce:
		return "ANNOUNCE"
	case StateMonitor:
		return "MONITOR"
	case StateDefend:
		return "DEFEND"
	default:
		return "UNKNOWN"
	}
}
