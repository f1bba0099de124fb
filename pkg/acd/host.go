package acd

import (
	"net"
	"sync"
	"sync/atomic"
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRegisterObserver
	cmdRequestDefend
	cmdReset
	cmdClose
)

type command struct {
	kind     cmdKind
	observer Observer
	resp     chan error
}

// Host runs the RFC 5227 state machine for a single candidate address on
// a single interface. It is driven by a dedicated goroutine (the "run
// loop") that owns all mutable state; every exported method communicates
// with that goroutine over channels rather than sharing memory, so a
// Host is safe for concurrent use from any number of goroutines.
//
// The run loop is the only goroutine that reads wall-clock time or
// wire-level data: it learns about elapsed time exclusively through
// Scheduler.Fired and about the network exclusively through
// ARPChannel.Recv/Errors. This mirrors the single-threaded event loop
// the state machine was originally specified against, while the
// surrounding channel plumbing is the idiomatic Go way to get there.
type Host struct {
	requestedIP net.IP
	mac         net.HardwareAddr
	channel     ARPChannel
	scheduler   Scheduler
	rand        Rand
	observer    Observer
	tuning      Tuning

	cmdCh      chan command
	asyncCmdCh chan command
	closedCh   chan struct{}
	closeOnce  sync.Once

	// callbackDepth is non-zero only while the run loop is synchronously
	// inside an Observer callback. It is written only by the run-loop
	// goroutine. Any goroutine submitting a command checks it: a
	// positive depth means a callback might be calling back into the
	// Host right now (e.g. Start from inside OnStateChange), and
	// blocking for a response here would deadlock the loop against
	// itself, so the command is queued on asyncCmdCh instead and the
	// call returns immediately.
	callbackDepth atomic.Int32

	stateAtomic     atomic.Int32
	conflictsAtomic atomic.Int32

	// Everything below is owned by the run-loop goroutine alone and
	// must not be touched from any other goroutine.
	state            State
	quiesced         bool
	retryTimes       int
	awaitingAnnounce bool
	conflicts        int

	stateTimer           TimerHandle
	conflictWindowTimer  TimerHandle
	windowActive         bool
	defendIntervalTimer  TimerHandle
	withinDefendInterval bool
}

// NewHost constructs a Host for the given configuration and starts its
// run loop. The Host begins in StateIdle; call Start to begin probing.
func NewHost(cfg Config) (*Host, error) {
	if cfg.RequestedIP == nil || cfg.RequestedIP.IsUnspecified() {
		return nil, ErrInvalidIP
	}
	if cfg.Channel == nil || cfg.Scheduler == nil || cfg.Rand == nil {
		return nil, ErrMissingCollaborator
	}

	h := &Host{
		requestedIP: cfg.RequestedIP.To4(),
		mac:         cfg.HardwareAddr,
		channel:     cfg.Channel,
		scheduler:   cfg.Scheduler,
		rand:        cfg.Rand,
		observer:    cfg.Observer,
		tuning:      cfg.Tuning.withDefaults(),
		cmdCh:       make(chan command),
		asyncCmdCh:  make(chan command, 16),
		closedCh:    make(chan struct{}),
	}
	go h.run()
	return h, nil
}

// Start begins the probe phase for the configured address. It returns
// ErrAlreadyStarted if the host is not idle, or ErrQuiesced if the host
// previously hit MaxConflicts and hasn't been Reset.
func (h *Host) Start() error {
	return h.submit(command{kind: cmdStart})
}

// Stop abandons the current candidate and returns the host to StateIdle.
// It does not clear a quiesced host's conflict history; call Reset for
// that.
func (h *Host) Stop() error {
	return h.submit(command{kind: cmdStop})
}

// RegisterObserver replaces the host's Observer. A nil observer
// disables notifications.
func (h *Host) RegisterObserver(o Observer) error {
	return h.submit(command{kind: cmdRegisterObserver, observer: o})
}

// RequestDefend asks the host to immediately reassert ownership of its
// address with a gratuitous ARP announcement. It returns ErrNotMonitoring
// unless the host is currently in StateMonitor.
func (h *Host) RequestDefend() error {
	return h.submit(command{kind: cmdRequestDefend})
}

// Reset clears a quiesced host's conflict count and MaxConflicts latch
// so Start can be called again.
func (h *Host) Reset() error {
	return h.submit(command{kind: cmdReset})
}

// Close stops the run loop and closes the underlying ARPChannel. It is
// safe to call more than once; calls after the first return ErrClosed.
func (h *Host) Close() error {
	first := false
	var err error
	h.closeOnce.Do(func() {
		first = true
		err = h.submit(command{kind: cmdClose})
	})
	<-h.closedCh
	if !first {
		return ErrClosed
	}
	return err
}

// State returns the host's current lifecycle state. Safe to call from
// any goroutine.
func (h *Host) State() State {
	return State(h.stateAtomic.Load())
}

// Conflicts returns the number of conflicts recorded in the current
// rate-limit window. Safe to call from any goroutine.
func (h *Host) Conflicts() int {
	return int(h.conflictsAtomic.Load())
}

// submit delivers cmd to the run loop and waits for its response, unless
// the loop is mid-callback (see callbackDepth) or already closed.
func (h *Host) submit(cmd command) error {
	select {
	case <-h.closedCh:
		return ErrClosed
	default:
	}

	if h.callbackDepth.Load() > 0 {
		select {
		case h.asyncCmdCh <- cmd:
		default:
			// Queue full: the command is dropped rather than risking a
			// block inside a callback. 16 queued reentrant commands
			// without the loop draining them would indicate a stuck
			// Observer, not a timing fluke worth blocking for.
		}
		return nil
	}

	resp := make(chan error, 1)
	cmd.resp = resp
	select {
	case h.cmdCh <- cmd:
	case <-h.closedCh:
		return ErrClosed
	}
	select {
	case err := <-resp:
		return err
	case <-h.closedCh:
		return ErrClosed
	}
}

// run is the host's single-threaded event loop. It drains any pending
// ARP frames before handling the next command or timer fire so that a
// frame and a timer that both become ready in the same tick are applied
// in a fixed order, matching the classify-before-timeout behavior the
// state machine depends on.
func (h *Host) run() {
	defer close(h.closedCh)

	for {
		// Drain frames already queued ahead of the select below. If a
		// frame and a timer both become ready in the same tick, the
		// select is free to pick either; the timer case drains again
		// before acting, so the frame is still classified first.
		h.drainFrames()

		select {
		case cmd := <-h.cmdCh:
			if h.dispatch(cmd) {
				return
			}
		case cmd := <-h.asyncCmdCh:
			if h.dispatch(cmd) {
				return
			}
		case f := <-h.channel.Recv():
			h.handleFrame(f)
		case err := <-h.channel.Errors():
			h.handleIOError(err)
		case handle := <-h.scheduler.Fired():
			h.drainFrames()
			h.handleTimerFired(handle)
		}
	}
}

func (h *Host) drainFrames() {
	for {
		select {
		case f := <-h.channel.Recv():
			h.handleFrame(f)
		default:
			return
		}
	}
}

func (h *Host) dispatch(cmd command) (shouldExit bool) {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = h.doStart()
	case cmdStop:
		err = h.doStop()
	case cmdRegisterObserver:
		h.observer = cmd.observer
	case cmdRequestDefend:
		err = h.doRequestDefend()
	case cmdReset:
		err = h.doReset()
	case cmdClose:
		h.cancelStateTimers()
		if h.conflictWindowTimer != 0 {
			h.scheduler.Cancel(h.conflictWindowTimer)
			h.conflictWindowTimer = 0
		}
		h.windowActive = false
		err = h.channel.Close()
		shouldExit = true
	}
	if cmd.resp != nil {
		cmd.resp <- err
	}
	return shouldExit
}

// notify invokes fn with the current Observer, if any, marking the
// callback as in-flight so reentrant Host calls from within fn take the
// async path in submit instead of deadlocking against this goroutine.
func (h *Host) notify(fn func(Observer)) {
	if h.observer == nil {
		return
	}
	h.callbackDepth.Add(1)
	fn(h.observer)
	h.callbackDepth.Add(-1)
}

func (h *Host) handleIOError(err error) {
	h.notify(func(o Observer) { o.OnIOError(err) })
	if isFatalChannelError(err) && h.state != StateIdle {
		h.notify(func(o Observer) { o.OnLost(h.requestedIP) })
		h.abandon()
	}
}
