package events

import (
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/athena-net/acd-host/internal/metrics"
)

func TestBusPublishSubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch := bus.Subscribe("dispatcher", 100)
	defer bus.Unsubscribe(ch)

	evt := Event{
		Type:      EventAddressAvailable,
		Timestamp: time.Now(),
		Host: &HostData{
			Interface: "eth0",
			IP:        net.IPv4(192, 168, 1, 100),
		},
	}

	bus.Publish(evt)

	select {
	case received := <-ch:
		if received.Type != EventAddressAvailable {
			t.Errorf("received event type = %q, want %q", received.Type, EventAddressAvailable)
		}
		if received.Host == nil || received.Host.Interface != "eth0" {
			t.Error("host data not preserved")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch1 := bus.Subscribe("dispatcher", 100)
	ch2 := bus.Subscribe("syslog", 100)
	defer bus.Unsubscribe(ch1)
	defer bus.Unsubscribe(ch2)

	bus.Publish(Event{Type: EventConflictDetected, Timestamp: time.Now()})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventConflictDetected {
				t.Errorf("event type = %q, want %q", e.Type, EventConflictDetected)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event on subscriber")
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	ch := bus.Subscribe("dispatcher", 100)
	bus.Unsubscribe(ch)

	bus.Publish(Event{Type: EventAddressLost, Timestamp: time.Now()})

	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("should not receive events after unsubscribe")
		}
	default:
	}
}

func TestBusSubscriberDropAttributedByName(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(100, logger)
	go bus.Start()
	defer bus.Stop()

	// Buffer of 1, never drained: the second publish must overflow this
	// subscriber specifically, not the bus itself.
	ch := bus.Subscribe("syslog", 1)
	defer bus.Unsubscribe(ch)

	before := testutil.ToFloat64(metrics.EventSubscriberDrops.WithLabelValues("syslog"))

	bus.Publish(Event{Type: EventConflictDetected, Timestamp: time.Now()})
	bus.Publish(Event{Type: EventConflictDetected, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	after := testutil.ToFloat64(metrics.EventSubscriberDrops.WithLabelValues("syslog"))
	if after <= before {
		t.Errorf("expected event_subscriber_drops_total{subscriber=\"syslog\"} to increase, before=%v after=%v", before, after)
	}
}

func TestBusNonBlocking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := NewBus(1, logger)
	go bus.Start()
	defer bus.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventStateChanged, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked — event bus should be non-blocking")
	}
}
