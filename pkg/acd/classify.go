package acd

import "net"

// verdict is the result of classifying an inbound ARP frame against the
// address a Host currently owns or is probing.
type verdict int

const (
	// verdictIgnore means the frame carries no information relevant to
	// the current candidate address (different IP, or our own MAC).
	verdictIgnore verdict = iota

	// verdictProbeConflict means a probe-phase frame (§4.1.1 case 1)
	// claims the address we're probing — another host is either also
	// probing it or already using it.
	verdictProbeConflict

	// verdictAddressInUse means an announce/monitor/defend-phase frame
	// (§4.1.1 case 2) shows someone else actively using our address.
	verdictAddressInUse
)

// classify implements §4.1.1: decide what an inbound ARP frame means for
// a host that owns or is probing requestedIP with hardware address self.
//
// Rule 1 (any state): ignore frames whose sender hardware address equals
// self — those are our own probes or announcements reflected back by a
// switch or bridge, not a foreign host.
//
// Rule 2 (PROBE state): a frame is a probe conflict if either
//   - sender protocol address == requestedIP (someone already claims it), or
//   - sender protocol address == 0.0.0.0 and target protocol address ==
//     requestedIP (someone else is probing the same address concurrently).
//
// Rule 3 (ANNOUNCE/MONITOR/DEFEND state): a frame indicates the address
// is in use by someone else if sender protocol address == requestedIP
// and the sender hardware address differs from self.
func classify(state State, self net.HardwareAddr, requestedIP net.IP, f Frame) verdict {
	if hwEqual(f.SenderHardwareAddr, self) {
		return verdictIgnore
	}

	switch state {
	case StateProbe:
		if ipEqual(f.SenderIP, requestedIP) {
			return verdictProbeConflict
		}
		if isZeroIP(f.SenderIP) && ipEqual(f.TargetIP, requestedIP) {
			return verdictProbeConflict
		}
		return verdictIgnore

	case StateAnnounce, StateMonitor, StateDefend:
		if ipEqual(f.SenderIP, requestedIP) {
			return verdictAddressInUse
		}
		return verdictIgnore

	default:
		return verdictIgnore
	}
}

func hwEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ipEqual(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return false
	}
	return a4.Equal(b4)
}

func isZeroIP(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	return ip4.Equal(net.IPv4zero)
}
