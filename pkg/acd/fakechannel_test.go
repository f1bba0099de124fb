package acd

import (
	"net"
	"sync"
)

// fakeChannel is an in-memory ARPChannel: Send records frames instead of
// transmitting them, and tests inject inbound frames with push.
type fakeChannel struct {
	mac net.HardwareAddr

	mu     sync.Mutex
	sent   []Frame
	closed bool

	recv chan Frame
	errs chan error
}

func newFakeChannel(mac net.HardwareAddr) *fakeChannel {
	return &fakeChannel{
		mac:  mac,
		recv: make(chan Frame, 32),
		errs: make(chan error, 8),
	}
}

func (c *fakeChannel) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeChannel) Recv() <-chan Frame { return c.recv }

func (c *fakeChannel) Errors() <-chan error { return c.errs }

func (c *fakeChannel) HardwareAddr() net.HardwareAddr { return c.mac }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) push(f Frame) { c.recv <- f }

func (c *fakeChannel) pushErr(err error) { c.errs <- err }

func (c *fakeChannel) sentFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
