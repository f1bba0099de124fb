package acd

import "net"

// Observer receives Host lifecycle notifications. All methods are
// called synchronously from the Host's run loop — an Observer must not
// block, and if it calls back into the Host (Start, Stop, RequestDefend,
// Reset) from within a callback, that call is queued and applied after
// the callback returns rather than being applied re-entrantly. See
// host.go's callbackDepth for the mechanism.
type Observer interface {
	// OnStateChange fires on every state transition, including the
	// terminal transition back to StateIdle after an abandoned address.
	// An explicit Stop returns the host to StateIdle without it.
	OnStateChange(old, new State)

	// OnAddressAvailable fires once, after the final announce, as the
	// host moves from StateAnnounce to StateMonitor.
	OnAddressAvailable(ip net.IP)

	// OnConflict fires whenever classify reports a conflict or
	// address-in-use frame, before the Host decides how to react.
	OnConflict(ip net.IP, state State, f Frame)

	// OnLost fires when the host must abandon an address it had already
	// claimed: a conflict arrives too soon after the last defense, a
	// conflict arrives while already defending, or the ARP channel
	// reports a fatal I/O error.
	OnLost(ip net.IP)

	// OnQuiesced fires when accumulated conflicts reach MaxConflicts
	// and the host stops probing until Reset is called.
	OnQuiesced(ip net.IP, conflicts int)

	// OnIOError fires on every asynchronous ARPChannel receive error,
	// fatal or not, so a caller can log or count transport failures. A
	// fatal error (see FatalChannelError) additionally triggers OnLost
	// and abandonment; a non-fatal one changes nothing else.
	OnIOError(err error)
}

// CallbackObserver adapts plain functions to the Observer interface; any
// nil field is a no-op. Useful for tests and for callers that only care
// about one or two notifications.
type CallbackObserver struct {
	StateChangeFunc      func(old, new State)
	AddressAvailableFunc func(ip net.IP)
	ConflictFunc         func(ip net.IP, state State, f Frame)
	LostFunc             func(ip net.IP)
	QuiescedFunc         func(ip net.IP, conflicts int)
	IOErrorFunc          func(err error)
}

func (c CallbackObserver) OnStateChange(old, new State) {
	if c.StateChangeFunc != nil {
		c.StateChangeFunc(old, new)
	}
}

func (c CallbackObserver) OnAddressAvailable(ip net.IP) {
	if c.AddressAvailableFunc != nil {
		c.AddressAvailableFunc(ip)
	}
}

func (c CallbackObserver) OnConflict(ip net.IP, state State, f Frame) {
	if c.ConflictFunc != nil {
		c.ConflictFunc(ip, state, f)
	}
}

func (c CallbackObserver) OnLost(ip net.IP) {
	if c.LostFunc != nil {
		c.LostFunc(ip)
	}
}

func (c CallbackObserver) OnQuiesced(ip net.IP, conflicts int) {
	if c.QuiescedFunc != nil {
		c.QuiescedFunc(ip, conflicts)
	}
}

func (c CallbackObserver) OnIOError(err error) {
	if c.IOErrorFunc != nil {
		c.IOErrorFunc(err)
	}
}
