// Package udp implements the UDP connection table and datagram handling:
// spec.md §4.3 / C6. Slot matching and the optional all-zeros-maps-to-
// 0xFFFF checksum rule follow uip.h's uip_udp_conn table and
// UIP_UDP_CHECKSUMS option (see _examples/original_source/uipopt.h).
package udp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/chksum"
	"github.com/dreadl0ck/nanostack/event"
)

// header offsets, relative to the start of the UDP header.
const (
	offSrcPort  = 0
	offDstPort  = 2
	offLength   = 4
	offChecksum = 6
)

// Slot is one fixed UDP connection slot (spec.md §3). It is "free" iff
// LocalPort is zero.
type Slot struct {
	RemoteIP   buffer.IP
	RemotePort uint16
	LocalPort  uint16
	TTL        uint8
	App        any

	curData     []byte
	pendingSend []byte
	pendingSet  bool

	peerIP   buffer.IP // sender of the most recent inbound datagram
	peerPort uint16
}

// Free reports whether the slot is unused.
func (s *Slot) Free() bool { return s.LocalPort == 0 }

// Data implements event.Conn: the payload of the datagram that triggered
// this event, or nil for a timer/poll-driven invocation.
func (s *Slot) Data() []byte { return s.curData }

// Send implements event.Conn: arms buf as the datagram to transmit once the
// callback returns (spec.md §4.3's UDPSend/UDPTimer events).
func (s *Slot) Send(buf []byte) {
	s.pendingSend = buf
	s.pendingSet = true
}

// Close, Abort, Stop and Restart are no-ops for UDP: a datagram slot has no
// handshake or teardown sequence, and flow control does not apply.
func (s *Slot) Close()   {}
func (s *Slot) Abort()   {}
func (s *Slot) Stop()    {}
func (s *Slot) Restart() {}

var _ event.Conn = (*Slot)(nil)

// SetData arms the payload Data returns for the upcoming app invocation —
// the dispatcher's counterpart of the TCP slot's curData, called once per
// inbound datagram or timer/poll tick before the app callback runs.
func (s *Slot) SetData(payload []byte) {
	s.curData = payload
}

// TakePending returns the datagram armed by the last Send call (if any) and
// clears it, so the dispatcher emits it at most once per invocation.
func (s *Slot) TakePending() ([]byte, bool) {
	if !s.pendingSet {
		return nil, false
	}
	buf := s.pendingSend
	s.pendingSend, s.pendingSet = nil, false
	return buf, true
}

// ReplyAddr returns the address a Send arising from the current invocation
// should go to: the slot's own RemoteIP/RemotePort if it is bound to one
// peer, otherwise whoever most recently sent it a datagram (meaningful only
// for a wildcard slot replying within the same event that delivered the
// datagram it is answering).
func (s *Slot) ReplyAddr() (buffer.IP, uint16) {
	ip, port := s.RemoteIP, s.RemotePort
	if ip.IsZero() {
		ip = s.peerIP
	}
	if port == 0 {
		port = s.peerPort
	}
	return ip, port
}

// Table is the fixed array of UDP connection slots (N_UDP in spec.md §3).
type Table struct {
	slots []Slot
}

// NewTable allocates a table with n fixed slots.
func NewTable(n int) *Table {
	return &Table{slots: make([]Slot, n)}
}

// NewConnection installs a UDP slot for an outbound connection to
// (remoteIP, remotePort) from localPort, or returns nil if no slot is free.
// remotePort == 0 / remoteIP zero act as wildcards matching any peer,
// mirroring uip_udp_new/uip_udp_bind.
func (t *Table) NewConnection(localPort uint16, remoteIP buffer.IP, remotePort uint16, ttl uint8) *Slot {
	for i := range t.slots {
		if t.slots[i].Free() {
			t.slots[i] = Slot{RemoteIP: remoteIP, RemotePort: remotePort, LocalPort: localPort, TTL: ttl}
			return &t.slots[i]
		}
	}
	return nil
}

// Close frees a slot.
func (t *Table) Close(s *Slot) {
	*s = Slot{}
}

// Slots returns the underlying table, for periodic POLL iteration.
func (t *Table) Slots() []Slot {
	return t.slots
}

// Match finds the first slot matching (localPort == destPort) AND
// (remotePort == 0 OR remotePort == srcPort) AND (remoteIP == 0.0.0.0 OR
// remoteIP == srcIP), per spec.md §4.3's first-match-wins rule.
func (t *Table) Match(destPort, srcPort uint16, srcIP buffer.IP) *Slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.Free() || s.LocalPort != destPort {
			continue
		}
		if s.RemotePort != 0 && s.RemotePort != srcPort {
			continue
		}
		if !s.RemoteIP.IsZero() && s.RemoteIP != srcIP {
			continue
		}
		return s
	}
	return nil
}

// Input locates the slot that should receive an inbound UDP datagram and
// returns it along with the payload slice (aliasing the frame buffer). ok
// is false if no slot matched — spec.md §4.3: "If none, drop."
func Input(f *buffer.Frame, ipHeaderLen int, srcIP buffer.IP, t *Table) (slot *Slot, payload []byte, ok bool) {
	udpStart := buffer.EthHeaderLen + ipHeaderLen
	if f.Len < udpStart+buffer.UDPHeaderLen {
		return nil, nil, false
	}

	b := f.Data
	srcPort := uint16(b[udpStart+offSrcPort])<<8 | uint16(b[udpStart+offSrcPort+1])
	dstPort := uint16(b[udpStart+offDstPort])<<8 | uint16(b[udpStart+offDstPort+1])

	s := t.Match(dstPort, srcPort, srcIP)
	if s == nil {
		return nil, nil, false
	}
	// record the actual sender so a wildcard slot's reply (Send, armed
	// during this invocation) goes back to the peer that just spoke to it
	// rather than to an unset 0.0.0.0/0 RemoteIP.
	s.peerIP, s.peerPort = srcIP, srcPort

	udpLen := int(b[udpStart+offLength])<<8 | int(b[udpStart+offLength+1])
	if udpLen < buffer.UDPHeaderLen || udpStart+udpLen > f.Len {
		return nil, nil, false
	}

	return s, b[udpStart+buffer.UDPHeaderLen : udpStart+udpLen], true
}

// Output builds a UDP header in place for n bytes of payload already
// written at buffer[EthHeaderLen+IPHeaderLen+UDPHeaderLen:] and returns the
// UDP segment length (header+payload). When withChecksum is true, the
// checksum is computed over the pseudo-header + UDP header + payload, with
// an all-zero result replaced by 0xFFFF per RFC 768 (spec.md §4.3 / §9
// Open Question 3).
func Output(f *buffer.Frame, srcIP, dstIP buffer.IP, srcPort, dstPort uint16, n int, withChecksum bool) int {
	udpStart := buffer.EthHeaderLen + buffer.IPHeaderLen
	b := f.Data
	segLen := buffer.UDPHeaderLen + n

	b[udpStart+offSrcPort], b[udpStart+offSrcPort+1] = byte(srcPort>>8), byte(srcPort)
	b[udpStart+offDstPort], b[udpStart+offDstPort+1] = byte(dstPort>>8), byte(dstPort)
	b[udpStart+offLength], b[udpStart+offLength+1] = byte(segLen>>8), byte(segLen)
	b[udpStart+offChecksum], b[udpStart+offChecksum+1] = 0, 0

	if withChecksum {
		pseudo := chksum.PseudoHeaderSum(srcIP, dstIP, buffer.IPProtoUDP, uint16(segLen))
		sum := ^chksum.Continue(pseudo, b[udpStart:udpStart+segLen])
		if sum == 0 {
			sum = 0xFFFF
		}
		b[udpStart+offChecksum], b[udpStart+offChecksum+1] = byte(sum>>8), byte(sum)
	}

	return segLen
}
