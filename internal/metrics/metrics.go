// Package metrics defines the Prometheus metrics for acd-hostd. All
// metrics use the "acd_host_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "acd_host"

// --- Probe/Announce Metrics ---

var (
	// FramesSent counts ARP frames sent, by kind (probe, announce).
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sent_total",
		Help:      "Total ARP frames sent, by kind.",
	}, []string{"interface", "kind"})

	// FramesReceived counts ARP frames received off the wire, before
	// classification.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Total ARP frames received, by interface.",
	}, []string{"interface"})

	// ProbeCycleDuration tracks the time from Start to either
	// OnAddressAvailable or abandonment.
	ProbeCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_cycle_duration_seconds",
		Help:      "Duration of a probe cycle from Start to available or abandon.",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
	}, []string{"interface", "outcome"})
)

// --- State Metrics ---

var (
	// HostState reports each host's current lifecycle state as a labeled
	// gauge: 1 for the active state, 0 for the others.
	HostState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "host_state",
		Help:      "Current ACD host state (1 = active). Labels: interface, state.",
	}, []string{"interface", "state"})

	// DefendInCooldown is 1 while a host is within DefendInterval of its
	// last defense.
	DefendInCooldown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "defend_in_cooldown",
		Help:      "1 if the host is within its defend cooldown window.",
	}, []string{"interface"})
)

// --- Conflict Metrics ---

var (
	// ConflictsDetected counts conflicting ARP frames classified against a
	// probing or claimed address.
	ConflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_detected_total",
		Help:      "Total conflicting ARP frames observed, by phase.",
	}, []string{"interface", "phase"})

	// AddressesLost counts claimed addresses abandoned after losing a
	// defense or a fatal channel error.
	AddressesLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "addresses_lost_total",
		Help:      "Total claimed addresses abandoned, by reason.",
	}, []string{"interface", "reason"})

	// AddressesClaimed counts successful PROBE/ANNOUNCE cycles reaching
	// MONITOR.
	AddressesClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "addresses_claimed_total",
		Help:      "Total addresses successfully claimed (reached MONITOR).",
	}, []string{"interface"})

	// HostsQuiesced counts MaxConflicts-within-RateLimitInterval trips.
	HostsQuiesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hosts_quiesced_total",
		Help:      "Total times a host quiesced after hitting the conflict rate limit.",
	}, []string{"interface"})

	// ConflictsWindow is a gauge of the current conflict count within the
	// active rate-limit window.
	ConflictsWindow = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conflicts_window",
		Help:      "Conflicts recorded within the current rate-limit window.",
	}, []string{"interface"})
)

// --- I/O Metrics ---

var (
	// ChannelErrors counts ARPChannel receive errors, by fatality.
	ChannelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_errors_total",
		Help:      "Total ARPChannel receive errors, by fatal/non-fatal.",
	}, []string{"interface", "fatal"})
)

// --- Event Bus Metrics ---

var (
	// EventsPublished counts events published to the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus.",
	}, []string{"event_type"})

	// EventBufferDrops counts events dropped due to a full bus buffer,
	// before fan-out to any subscriber.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to a full event bus buffer.",
	})

	// EventSubscriberDrops counts events dropped because a named
	// subscriber (the hook dispatcher, the SIEM forwarder, ...) fell
	// behind and its own buffer was full.
	EventSubscriberDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_subscriber_drops_total",
		Help:      "Total events dropped because a subscriber's buffer was full.",
	}, []string{"subscriber"})

	// HookExecutions counts hook executions by type and result.
	HookExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hook_executions_total",
		Help:      "Total hook executions.",
	}, []string{"hook_type", "result"})

	// HookDuration tracks hook execution latency.
	HookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hook_execution_duration_seconds",
		Help:      "Hook execution duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
	}, []string{"hook_type"})
)

// --- Server Info ---

var (
	// ServerInfo is a constant gauge with build and version info.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Server build and version info.",
	}, []string{"version"})

	// ServerStartTime tracks process start time as a unix timestamp.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Server start time as Unix timestamp.",
	})
)
