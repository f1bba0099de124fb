// Package acd implements IPv4 Address Conflict Detection per RFC 5227.
//
// A Host probes a candidate address on a link before an owning process
// commits to it, announces ownership once the probe phase clears, and
// defends the address against later conflicting claims. The state
// machine is driven entirely by three injected collaborators — an ARP
// channel, a timer scheduler, and a source of probe jitter — so it has
// no knowledge of sockets, BPF filters, or wall-clock time; see
// internal/arplink and internal/clock for the concrete adapters used by
// cmd/acd-hostd.
package acd
