package acd

import (
	"net"
	"testing"
	"time"

	"github.com/athena-net/acd-host/internal/clock/clocktest"
)

func testMAC(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, last}
}

var ourMAC = testMAC(0x01)
var otherMAC = testMAC(0x02)
var candidateIP = net.IPv4(192, 0, 2, 10).To4()

type testHarness struct {
	t         *testing.T
	host      *Host
	channel   *fakeChannel
	scheduler *clocktest.FakeScheduler
}

func newTestHarness(t *testing.T, tuning Tuning) *testHarness {
	t.Helper()
	ch := newFakeChannel(ourMAC)
	sched := clocktest.NewFakeScheduler()
	h, err := NewHost(Config{
		RequestedIP:  candidateIP,
		HardwareAddr: ourMAC,
		Channel:      ch,
		Scheduler:    sched,
		Rand:         clocktest.FixedRand{Delay: 0},
		Tuning:       tuning,
	})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return &testHarness{t: t, host: h, channel: ch, scheduler: sched}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestStartProbesThenAnnouncesThenAvailable(t *testing.T) {
	tn := Tuning{ProbeNum: 3, AnnounceNum: 2}
	h := newTestHarness(t, tn)

	var available bool
	var stateChanges []State
	h.host.RegisterObserver(CallbackObserver{
		AddressAvailableFunc: func(net.IP) { available = true },
		StateChangeFunc:      func(old, new State) { stateChanges = append(stateChanges, new) },
	})

	if err := h.host.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })

	// initial delay + two inter-probe delays = 3 probes
	h.scheduler.Advance(time.Second)
	h.scheduler.Advance(time.Second)
	h.scheduler.Advance(time.Second)
	waitFor(t, func() bool { return len(h.channel.sentFrames()) == 3 })

	// AnnounceWait delivers the 1st announce and flips state to ANNOUNCE;
	// the next AnnounceInterval delivers the 2nd; the one after that
	// finds retry_times == ANNOUNCE_NUM and fires on_available with no
	// further send.
	h.scheduler.Advance(2 * time.Second)
	waitFor(t, func() bool { return h.host.State() == StateAnnounce })
	h.scheduler.Advance(2 * time.Second)
	waitFor(t, func() bool { return len(h.channel.sentFrames()) == 5 })
	h.scheduler.Advance(2 * time.Second)
	waitFor(t, func() bool { return available })
	waitFor(t, func() bool { return h.host.State() == StateMonitor })

	sent := h.channel.sentFrames()
	for i := 0; i < 3; i++ {
		if !sent[i].SenderIP.Equal(net.IPv4zero) {
			t.Errorf("probe %d: sender IP = %v, want 0.0.0.0", i, sent[i].SenderIP)
		}
		if !sent[i].TargetIP.Equal(candidateIP) {
			t.Errorf("probe %d: target IP = %v, want %v", i, sent[i].TargetIP, candidateIP)
		}
	}
	for i := 3; i < 5; i++ {
		if !sent[i].SenderIP.Equal(candidateIP) || !sent[i].TargetIP.Equal(candidateIP) {
			t.Errorf("announce %d: sender/target = %v/%v, want both %v", i, sent[i].SenderIP, sent[i].TargetIP, candidateIP)
		}
	}
}

func TestProbeConflictFromReply(t *testing.T) {
	h := newTestHarness(t, Tuning{})

	var conflicts int
	h.host.RegisterObserver(CallbackObserver{
		ConflictFunc: func(net.IP, State, Frame) { conflicts++ },
	})

	if err := h.host.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })
	h.scheduler.Advance(time.Second)
	waitFor(t, func() bool { return len(h.channel.sentFrames()) == 1 })

	h.channel.push(Frame{
		Operation:          OpReply,
		SenderHardwareAddr: otherMAC,
		SenderIP:           candidateIP,
		TargetHardwareAddr: ourMAC,
		TargetIP:           candidateIP,
	})

	waitFor(t, func() bool { return h.host.State() == StateIdle })
	waitFor(t, func() bool { return conflicts == 1 })
	if h.host.Conflicts() != 1 {
		t.Errorf("Conflicts() = %d, want 1", h.host.Conflicts())
	}
	if n := len(h.channel.sentFrames()); n != 1 {
		t.Errorf("sent %d frames after conflict, want 1 (no further probes)", n)
	}
}

func TestProbeConflictFromConcurrentProbe(t *testing.T) {
	h := newTestHarness(t, Tuning{})
	if err := h.host.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })

	h.channel.push(Frame{
		Operation:          OpRequest,
		SenderHardwareAddr: otherMAC,
		SenderIP:           net.IPv4zero,
		TargetHardwareAddr: zeroHardwareAddr,
		TargetIP:           candidateIP,
	})

	waitFor(t, func() bool { return h.host.State() == StateIdle })
	if h.host.Conflicts() != 1 {
		t.Errorf("Conflicts() = %d, want 1", h.host.Conflicts())
	}
}

func TestMonitorConflictTriggersDefendThenLoses(t *testing.T) {
	tn := Tuning{ProbeNum: 1, AnnounceNum: 1, DefendInterval: time.Hour}
	h := newTestHarness(t, tn)

	var lost bool
	h.host.RegisterObserver(CallbackObserver{
		LostFunc: func(net.IP) { lost = true },
	})

	if err := h.host.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })
	h.scheduler.Advance(time.Second)     // the one probe
	waitFor(t, func() bool { return len(h.channel.sentFrames()) == 1 })
	h.scheduler.Advance(2 * time.Second) // AnnounceWait -> first (only) announce
	waitFor(t, func() bool { return h.host.State() == StateAnnounce })
	h.scheduler.Advance(2 * time.Second) // AnnounceInterval -> on_available, MONITOR
	waitFor(t, func() bool { return h.host.State() == StateMonitor })

	conflictFrame := Frame{
		Operation:          OpRequest,
		SenderHardwareAddr: otherMAC,
		SenderIP:           candidateIP,
		TargetHardwareAddr: zeroHardwareAddr,
		TargetIP:           candidateIP,
	}
	h.channel.push(conflictFrame)
	waitFor(t, func() bool { return h.host.State() == StateDefend })

	sentBeforeSecond := len(h.channel.sentFrames())
	h.channel.push(conflictFrame)
	waitFor(t, func() bool { return lost })
	waitFor(t, func() bool { return h.host.State() == StateIdle })

	if n := len(h.channel.sentFrames()); n != sentBeforeSecond {
		t.Errorf("sent %d frames after losing defense, want %d (no additional send)", n, sentBeforeSecond)
	}
}

func TestMaxConflictsQuiesces(t *testing.T) {
	tn := Tuning{MaxConflicts: 3, RateLimitInterval: time.Hour}
	h := newTestHarness(t, tn)

	var quiesced bool
	h.host.RegisterObserver(CallbackObserver{
		QuiescedFunc: func(net.IP, int) { quiesced = true },
	})

	probeConflict := Frame{
		Operation:          OpReply,
		SenderHardwareAddr: otherMAC,
		SenderIP:           candidateIP,
		TargetHardwareAddr: ourMAC,
		TargetIP:           candidateIP,
	}

	for i := 0; i < 2; i++ {
		if err := h.host.Start(); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		waitFor(t, func() bool { return h.host.State() == StateProbe })
		h.channel.push(probeConflict)
		waitFor(t, func() bool { return h.host.State() == StateIdle })
	}
	if quiesced {
		t.Fatalf("quiesced after only 2 conflicts, want 3")
	}

	if err := h.host.Start(); err != nil {
		t.Fatalf("Start #3: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })
	h.channel.push(probeConflict)
	waitFor(t, func() bool { return quiesced })

	if err := h.host.Start(); err != ErrQuiesced {
		t.Errorf("Start after quiesce: err = %v, want ErrQuiesced", err)
	}

	if err := h.host.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := h.host.Start(); err != nil {
		t.Errorf("Start after Reset: %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newTestHarness(t, Tuning{})
	if err := h.host.Stop(); err != nil {
		t.Fatalf("Stop on idle host: %v", err)
	}
	if err := h.host.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if h.host.State() != StateIdle {
		t.Errorf("State() = %v, want StateIdle", h.host.State())
	}
}

func TestRequestDefendRequiresMonitor(t *testing.T) {
	h := newTestHarness(t, Tuning{})
	if err := h.host.RequestDefend(); err != ErrNotMonitoring {
		t.Errorf("RequestDefend on idle host: err = %v, want ErrNotMonitoring", err)
	}
}

func TestReentrantStartFromObserverDoesNotDeadlock(t *testing.T) {
	tn := Tuning{ProbeNum: 1, AnnounceNum: 1}
	h := newTestHarness(t, tn)

	restarted := make(chan struct{}, 1)
	h.host.RegisterObserver(CallbackObserver{
		ConflictFunc: func(net.IP, State, Frame) {
			// Called synchronously from the run loop; this must not
			// deadlock even though Start() would normally block for a
			// response from that same loop.
			if err := h.host.Start(); err != nil {
				t.Errorf("reentrant Start: %v", err)
			}
			restarted <- struct{}{}
		},
	})

	if err := h.host.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return h.host.State() == StateProbe })

	h.channel.push(Frame{
		Operation:          OpReply,
		SenderHardwareAddr: otherMAC,
		SenderIP:           candidateIP,
		TargetHardwareAddr: ourMAC,
		TargetIP:           candidateIP,
	})

	select {
	case <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant callback never returned, run loop likely deadlocked")
	}
}
