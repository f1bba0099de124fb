//go:build !linux

package arplink

import (
	"fmt"
	"net"

	"github.com/athena-net/acd-host/pkg/acd"
)

// Channel is a placeholder on platforms without an AF_PACKET-equivalent
// adapter wired up yet. cmd/acd-hostd only runs in production on Linux;
// this exists so the module still builds (and pkg/acd's tests, which
// never import this package, are unaffected) when cross-compiling.
type Channel struct{}

func Open(ifname string) (*Channel, error) {
	return nil, fmt.Errorf("arplink: raw ARP sockets are not implemented on this platform")
}

func (c *Channel) Send(f acd.Frame) error              { return fmt.Errorf("arplink: unsupported platform") }
func (c *Channel) Recv() <-chan acd.Frame              { return nil }
func (c *Channel) Errors() <-chan error                { return nil }
func (c *Channel) HardwareAddr() net.HardwareAddr      { return nil }
func (c *Channel) Close() error                        { return nil }
