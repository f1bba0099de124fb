//go:build linux

package arplink

import (
	"fmt"
	"net"
	"sync"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/athena-net/acd-host/pkg/acd"
)

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// Channel is the Linux acd.ARPChannel: an AF_PACKET/SOCK_RAW socket
// bound to one interface and filtered at the socket layer to ARP
// ethertype by its protocol argument. A classic BPF program is attached
// as well, but it accepts every packet (see attachARPFilter).
type Channel struct {
	fd      int
	mac     net.HardwareAddr
	ifindex int

	recv chan acd.Frame
	errs chan error

	closeOnce sync.Once
	stopRead  chan struct{}
}

// Open binds a Channel to the interface named ifname. The returned
// Channel is ready to pass to acd.Config.Channel; its background reader
// goroutine is already running.
func Open(ifname string) (*Channel, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, errOpenFailed("lookup interface", err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ARP)))
	if err != nil {
		return nil, errOpenFailed("socket", err)
	}

	if err := attachARPFilter(fd); err != nil {
		unix.Close(fd)
		return nil, errOpenFailed("attach filter", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ARP),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, errOpenFailed("bind", err)
	}

	c := &Channel{
		fd:       fd,
		mac:      iface.HardwareAddr,
		ifindex:  iface.Index,
		recv:     make(chan acd.Frame, 64),
		errs:     make(chan error, 8),
		stopRead: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// attachARPFilter installs a classic BPF program via SO_ATTACH_FILTER.
// The socket protocol argument to Socket already restricts delivery to
// ETH_P_ARP, so this program is a trivial accept-all; it exists so the
// adapter has a concrete, swappable place to tighten filtering (e.g. by
// sender hardware address) without touching the read path.
func attachARPFilter(fd int) error {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: 0xffffffff},
	})
	if err != nil {
		return fmt.Errorf("assemble bpf program: %w", err)
	}

	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&filters[0])),
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

func (c *Channel) Send(f acd.Frame) error {
	pkt := encodeFrame(f)
	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ARP),
		Ifindex:  c.ifindex,
		Halen:    arpHLen,
	}
	copy(addr.Addr[:], broadcastMAC)

	for {
		err := unix.Sendto(c.fd, pkt, 0, &addr)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return fmt.Errorf("arplink: sendto: %w", err)
		}
		return nil
	}
}

func (c *Channel) Recv() <-chan acd.Frame { return c.recv }

func (c *Channel) Errors() <-chan error { return c.errs }

func (c *Channel) HardwareAddr() net.HardwareAddr { return c.mac }

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopRead)
		err = unix.Close(c.fd)
	})
	return err
}

// readLoop parses exactly one frame per successful read, matching the
// adapter's non-blocking-from-the-state-machine's-perspective contract:
// the state machine never touches the socket, it only ever reads off
// recv/errs.
func (c *Channel) readLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.stopRead:
			return
		default:
		}

		n, _, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			select {
			case <-c.stopRead:
				return
			default:
			}
			if isFatalSocketError(err) {
				c.errs <- &acd.FatalChannelError{Err: fmt.Errorf("arplink: recvfrom: %w", err)}
				return
			}
			c.errs <- fmt.Errorf("arplink: recvfrom: %w", err)
			continue
		}

		f, ok := decodeFrame(buf[:n])
		if !ok {
			continue
		}
		c.recv <- f
	}
}

func isFatalSocketError(err error) bool {
	switch err {
	case unix.ENETDOWN, unix.ENXIO, unix.EBADF, unix.EINVAL:
		return true
	default:
		return false
	}
}
