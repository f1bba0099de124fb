package acd

import "time"

// doStart moves an idle, non-quiesced host into StateProbe and arms the
// first probe timer with a random delay in [0, ProbeWait), per the
// initial-wait rule in RFC 5227 §1.1 (a host shouldn't probe the
// instant it comes up). The channel is expected to already be open;
// NewHost ties its lifetime to the Host, not to each Start/Stop cycle.
func (h *Host) doStart() error {
	if h.quiesced {
		return ErrQuiesced
	}
	if h.state != StateIdle {
		return ErrAlreadyStarted
	}
	h.retryTimes = 0
	h.awaitingAnnounce = false
	h.transitionTo(StateProbe)
	h.armStateTimer(h.rand.ProbeDelay(0, h.tuning.ProbeWait))
	return nil
}

// doStop abandons whatever the host is doing and returns it to
// StateIdle without invoking any observer callback, matching stop's
// "do not invoke callbacks" contract. It is idempotent. It leaves the
// conflict-rate window alone, matching Stop's documented contract that
// conflict history only clears on Reset.
func (h *Host) doStop() error {
	h.cancelStateTimers()
	h.state = StateIdle
	h.stateAtomic.Store(int32(StateIdle))
	h.retryTimes = 0
	h.awaitingAnnounce = false
	return nil
}

func (h *Host) doRequestDefend() error {
	if h.state != StateMonitor {
		return ErrNotMonitoring
	}
	if h.withinDefendInterval {
		return nil
	}
	h.sendDefend()
	return nil
}

func (h *Host) doReset() error {
	h.quiesced = false
	h.conflicts = 0
	h.conflictsAtomic.Store(0)
	if h.conflictWindowTimer != 0 {
		h.scheduler.Cancel(h.conflictWindowTimer)
		h.conflictWindowTimer = 0
	}
	h.windowActive = false
	return nil
}

func (h *Host) handleFrame(f Frame) {
	switch classify(h.state, h.mac, h.requestedIP, f) {
	case verdictProbeConflict:
		crossed := h.recordConflict()
		h.notify(func(o Observer) { o.OnConflict(h.requestedIP, h.state, f) })
		if crossed {
			h.notify(func(o Observer) { o.OnQuiesced(h.requestedIP, h.conflicts) })
		}
		h.abandon()

	case verdictAddressInUse:
		crossed := h.recordConflict()
		h.notify(func(o Observer) { o.OnConflict(h.requestedIP, h.state, f) })
		if crossed {
			h.notify(func(o Observer) { o.OnQuiesced(h.requestedIP, h.conflicts) })
			h.abandon()
			return
		}
		h.handleDefensePolicy()
	}
}

// handleDefensePolicy implements the MONITOR/DEFEND rows of the
// transition table. A conflict seen while ANNOUNCE-ing is treated like
// one seen in MONITOR: classification applies in both states, and the
// table's silence on ANNOUNCE is read as "same policy as MONITOR" rather
// than "ignore" (an address that's mid-announcement has already cleared
// probing and is functionally claimed).
func (h *Host) handleDefensePolicy() {
	switch h.state {
	case StateMonitor, StateAnnounce:
		if h.withinDefendInterval {
			h.notify(func(o Observer) { o.OnLost(h.requestedIP) })
			h.abandon()
			return
		}
		h.sendDefend()
	case StateDefend:
		h.notify(func(o Observer) { o.OnLost(h.requestedIP) })
		h.abandon()
	}
}

func (h *Host) handleTimerFired(handle TimerHandle) {
	switch handle {
	case h.stateTimer:
		h.stateTimer = 0
		h.onStateTimeout()
	case h.conflictWindowTimer:
		h.conflictWindowTimer = 0
		h.windowActive = false
		h.conflicts = 0
		h.conflictsAtomic.Store(0)
	case h.defendIntervalTimer:
		h.defendIntervalTimer = 0
		h.withinDefendInterval = false
		if h.state == StateDefend {
			h.transitionTo(StateMonitor)
		}
	}
}

func (h *Host) onStateTimeout() {
	switch h.state {
	case StateProbe:
		h.onProbeTimeout()
	case StateAnnounce:
		h.onAnnounceTimeout()
	}
}

// onProbeTimeout fires PROBE_NUM probes spaced by a fresh [ProbeMin,
// ProbeMax) random delay, then waits AnnounceWait before handing off to
// the first announce. The hand-off fire is still delivered to this
// function (the host is still StateProbe during that wait, matching the
// table's "PROBE (pending ANNOUNCE)" row), distinguished by
// awaitingAnnounce.
func (h *Host) onProbeTimeout() {
	if h.awaitingAnnounce {
		h.awaitingAnnounce = false
		h.retryTimes = 1
		h.transitionTo(StateAnnounce)
		h.channel.Send(announceFrame(h.mac, h.requestedIP))
		h.armStateTimer(h.tuning.AnnounceInterval)
		return
	}

	h.channel.Send(probeFrame(h.mac, h.requestedIP))
	h.retryTimes++
	if h.retryTimes < h.tuning.ProbeNum {
		h.armStateTimer(h.rand.ProbeDelay(h.tuning.ProbeMin, h.tuning.ProbeMax))
		return
	}

	h.awaitingAnnounce = true
	h.armStateTimer(h.tuning.AnnounceWait)
}

func (h *Host) onAnnounceTimeout() {
	if h.retryTimes < h.tuning.AnnounceNum {
		h.channel.Send(announceFrame(h.mac, h.requestedIP))
		h.retryTimes++
		h.armStateTimer(h.tuning.AnnounceInterval)
		return
	}

	h.retryTimes = 0
	h.notify(func(o Observer) { o.OnAddressAvailable(h.requestedIP) })
	h.transitionTo(StateMonitor)
}

// sendDefend reasserts the claimed address with a gratuitous ARP and
// moves the host into StateDefend for DefendInterval. A conflict arriving
// before that cooldown expires is a lost defense (handleDefensePolicy);
// the cooldown expiring on its own returns the host to StateMonitor
// (handleTimerFired) with no observer notification.
func (h *Host) sendDefend() {
	h.channel.Send(announceFrame(h.mac, h.requestedIP))
	h.withinDefendInterval = true
	h.armDefendTimer(h.tuning.DefendInterval)
	h.transitionTo(StateDefend)
}

// recordConflict applies MaxConflicts-within-RateLimitInterval counting:
// a window opens on the first conflict seen while none is active and
// closes RateLimitInterval later, and reaching MaxConflicts inside one
// window quiesces the host until an explicit Reset. It reports whether
// this call is what pushed the host into quiescence, so the caller can
// sequence OnConflict before OnQuiesced.
func (h *Host) recordConflict() (justQuiesced bool) {
	if !h.windowActive {
		h.windowActive = true
		h.conflicts = 0
		h.armConflictWindowTimer(h.tuning.RateLimitInterval)
	}
	h.conflicts++
	h.conflictsAtomic.Store(int32(h.conflicts))
	if h.conflicts >= h.tuning.MaxConflicts && !h.quiesced {
		h.quiesced = true
		return true
	}
	return false
}

// abandon cancels the state and defend timers and returns the host to
// StateIdle, giving up the current candidate address. The owning
// process decides whether and when to Start again, possibly with a
// different address. Unlike doStop, this still raises OnStateChange:
// abandon always follows an OnConflict/OnLost/OnQuiesced notification,
// and an observer doing logging or metrics needs the matching state
// transition to close out what it just heard about.
//
// The conflict-rate window is deliberately left running: abandon does
// not reset conflicts, and a probe-conflict abandon/restart cycle must
// keep counting against the same window rather than starting a fresh
// one each time. Only Reset,
// or the window timer firing on its own, clears windowActive/conflicts.
func (h *Host) abandon() {
	h.cancelStateTimers()
	h.retryTimes = 0
	h.awaitingAnnounce = false
	h.transitionTo(StateIdle)
}

func (h *Host) transitionTo(new State) {
	if h.state == new {
		return
	}
	old := h.state
	h.state = new
	h.stateAtomic.Store(int32(new))
	h.notify(func(o Observer) { o.OnStateChange(old, new) })
}

func (h *Host) armStateTimer(d time.Duration) {
	if h.stateTimer != 0 {
		h.scheduler.Cancel(h.stateTimer)
	}
	h.stateTimer = h.scheduler.After(d)
}

func (h *Host) armConflictWindowTimer(d time.Duration) {
	h.conflictWindowTimer = h.scheduler.After(d)
}

func (h *Host) armDefendTimer(d time.Duration) {
	if h.defendIntervalTimer != 0 {
		h.scheduler.Cancel(h.defendIntervalTimer)
	}
	h.defendIntervalTimer = h.scheduler.After(d)
}

// cancelStateTimers cancels the state and defend-cooldown timers. It
// does not touch the conflict-rate window — see abandon and doStop for
// why that survives independently; the Close path in dispatch cancels
// the window timer itself.
func (h *Host) cancelStateTimers() {
	if h.stateTimer != 0 {
		h.scheduler.Cancel(h.stateTimer)
		h.stateTimer = 0
	}
	if h.defendIntervalTimer != 0 {
		h.scheduler.Cancel(h.defendIntervalTimer)
		h.defendIntervalTimer = 0
	}
	h.withinDefendInterval = false
}
