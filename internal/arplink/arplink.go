// Package arplink is the production acd.ARPChannel: a raw AF_PACKET
// socket bound to one interface and opened for the ARP ethertype only,
// with an accept-all classic BPF program attached, feeding a background
// reader goroutine that
// decodes frames and pushes them onto the channels pkg/acd.Host reads
// from its run loop.
package arplink

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/athena-net/acd-host/pkg/acd"
)

const (
	etherTypeARP = 0x0806
	arpHTypeEth  = 1
	arpPTypeIPv4 = 0x0800
	arpHLen      = 6
	arpPLen      = 4

	ethHeaderLen = 14
	arpBodyLen   = 28
	frameLen     = ethHeaderLen + arpBodyLen
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// encodeFrame lays out an ARP-over-Ethernet frame per RFC 826 §2.3.
// This directly replaces the stubbed frame builders conflict.ARPProber
// left unfinished: every field it hand-computed here is now driven by
// the acd.Frame the state machine hands in, instead of a single
// hardcoded probe shape.
func encodeFrame(f acd.Frame) []byte {
	pkt := make([]byte, frameLen)

	copy(pkt[0:6], broadcastMAC)
	copy(pkt[6:12], f.SenderHardwareAddr)
	binary.BigEndian.PutUint16(pkt[12:14], etherTypeARP)

	body := pkt[ethHeaderLen:]
	binary.BigEndian.PutUint16(body[0:2], arpHTypeEth)
	binary.BigEndian.PutUint16(body[2:4], arpPTypeIPv4)
	body[4] = arpHLen
	body[5] = arpPLen
	binary.BigEndian.PutUint16(body[6:8], uint16(f.Operation))
	copy(body[8:14], f.SenderHardwareAddr)
	copy(body[14:18], f.SenderIP.To4())
	copy(body[18:24], f.TargetHardwareAddr)
	copy(body[24:28], f.TargetIP.To4())

	return pkt
}

// decodeFrame is encodeFrame's inverse. It returns false if buf isn't a
// well-formed IPv4-over-Ethernet ARP packet.
func decodeFrame(buf []byte) (acd.Frame, bool) {
	if len(buf) < frameLen {
		return acd.Frame{}, false
	}
	if binary.BigEndian.Uint16(buf[12:14]) != etherTypeARP {
		return acd.Frame{}, false
	}
	body := buf[ethHeaderLen:]
	if binary.BigEndian.Uint16(body[0:2]) != arpHTypeEth ||
		binary.BigEndian.Uint16(body[2:4]) != arpPTypeIPv4 ||
		body[4] != arpHLen || body[5] != arpPLen {
		return acd.Frame{}, false
	}

	f := acd.Frame{
		Operation:          acd.Operation(binary.BigEndian.Uint16(body[6:8])),
		SenderHardwareAddr: append(net.HardwareAddr{}, body[8:14]...),
		SenderIP:           append(net.IP{}, body[14:18]...),
		TargetHardwareAddr: append(net.HardwareAddr{}, body[18:24]...),
		TargetIP:           append(net.IP{}, body[24:28]...),
	}
	return f, true
}

// errOpenFailed wraps a socket-setup error with the failed step's name.
// The caller sees it synchronously from Open and never constructs a
// Host with a half-open channel.
func errOpenFailed(op string, err error) error {
	return fmt.Errorf("arplink: %s: %w", op, err)
}
