// Package arp implements the IP->MAC resolver: spec.md §4.5 / C3, grounded
// on uip_arp.c (see _examples/original_source/uip_arp.c). The table is a
// fixed array with no dynamic allocation; the aging policy and the
// request/reply wire format are copied from the original's uip_arp_update,
// uip_arp_arpin and uip_arp_out.
package arp

import (
	"github.com/dreadl0ck/nanostack/buffer"
)

// MaxAgeTicks is the number of 10-second arp-tick calls an entry survives
// without a refresh before it is evicted (SPEC_FULL §4 item 3).
const MaxAgeTicks = 20

const (
	opRequest = 1
	opReply   = 2
	hwTypeEth = 1
)

// wire offsets within an Ethernet+ARP frame, following uip_arp.c's arp_hdr.
const (
	offHWType   = buffer.EthHeaderLen + 0
	offProto    = buffer.EthHeaderLen + 2
	offHWLen    = buffer.EthHeaderLen + 4
	offProtoLen = buffer.EthHeaderLen + 5
	offOpcode   = buffer.EthHeaderLen + 6
	offSHA      = buffer.EthHeaderLen + 8
	offSPA      = buffer.EthHeaderLen + 14
	offTHA      = buffer.EthHeaderLen + 18
	offTPA      = buffer.EthHeaderLen + 24
)

// entry is one fixed ARP table slot; free iff IP is all-zero (spec.md §3).
type entry struct {
	ip  buffer.IP
	mac buffer.MAC
	age uint8
}

// Table is the fixed-size IP->MAC cache plus a monotonic aging counter.
type Table struct {
	entries []entry
	ticks   uint8
}

// NewTable allocates a table with n fixed slots (N_ARP in spec.md §3).
func NewTable(n int) *Table {
	return &Table{entries: make([]entry, n)}
}

// Lookup returns the MAC cached for ip and true, or the zero MAC and false.
func (t *Table) Lookup(ip buffer.IP) (buffer.MAC, bool) {
	for i := range t.entries {
		if t.entries[i].ip == ip {
			return t.entries[i].mac, true
		}
	}
	return buffer.MAC{}, false
}

// update inserts or refreshes the (ip, mac) mapping, evicting the oldest
// entry when the table is full — mirrors uip_arp_update exactly.
func (t *Table) update(ip buffer.IP, mac buffer.MAC) {
	if ip.IsZero() {
		return
	}

	for i := range t.entries {
		if t.entries[i].ip == ip {
			t.entries[i].mac = mac
			t.entries[i].age = t.ticks
			return
		}
	}

	free := -1
	for i := range t.entries {
		if t.entries[i].ip.IsZero() {
			free = i
			break
		}
	}

	if free == -1 {
		oldest, oldestAge := 0, uint8(0)
		for i := range t.entries {
			age := t.ticks - t.entries[i].age
			if age > oldestAge {
				oldestAge = age
				oldest = i
			}
		}
		free = oldest
	}

	t.entries[free] = entry{ip: ip, mac: mac, age: t.ticks}
}

// Tick advances the aging counter and evicts entries older than
// MaxAgeTicks, to be called roughly every 10 seconds (spec.md §6).
func (t *Table) Tick() {
	t.ticks++
	for i := range t.entries {
		if !t.entries[i].ip.IsZero() && t.ticks-t.entries[i].age >= MaxAgeTicks {
			t.entries[i] = entry{}
		}
	}
}

// HandleRequest processes an inbound ARP request/reply addressed to this
// host. It is the receiver-bound counterpart of uip_arp_arpin: on a request
// for our own IP it rewrites buffer in place into a reply (same buffer, no
// copy) and leaves f.Len set to the reply length; on a reply addressed to
// us it registers the sender and drains the frame; a request for somebody
// else is drained without registering its sender.
// The returned bool is false only for a truncated frame or an unrecognized
// opcode — both callers may count as invalid input, distinct from the
// ordinary "nothing to send back" outcomes (a reply, or a request for a
// different host).
func (t *Table) HandleRequest(f *buffer.Frame, id buffer.Ident) bool {
	if f.Len < buffer.EthHeaderLen+buffer.ARPHeaderLen {
		f.Reset()
		return false
	}

	b := f.Data
	opcode := uint16(b[offOpcode])<<8 | uint16(b[offOpcode+1])

	var senderIP, targetIP buffer.IP
	copy(senderIP[:], b[offSPA:offSPA+4])
	copy(targetIP[:], b[offTPA:offTPA+4])
	var senderMAC buffer.MAC
	copy(senderMAC[:], b[offSHA:offSHA+6])

	switch opcode {
	case opRequest:
		if targetIP != id.IP {
			f.Reset()
			return true
		}

		// register the requester — we will likely talk to it soon.
		t.update(senderIP, senderMAC)

		// turn the request around into a reply, in place.
		b[offOpcode], b[offOpcode+1] = 0, opReply

		copy(b[offTHA:offTHA+6], b[offSHA:offSHA+6])
		copy(b[offSHA:offSHA+6], id.MAC[:])

		copy(b[offTPA:offTPA+4], b[offSPA:offSPA+4])
		copy(b[offSPA:offSPA+4], id.IP[:])

		// fix up the ethernet header: dest = requester, src = us.
		copy(b[0:6], senderMAC[:])
		copy(b[6:12], id.MAC[:])
		b[buffer.EthTypeOffset], b[buffer.EthTypeOffset+1] = byte(buffer.EthTypeARP>>8), byte(buffer.EthTypeARP)

		f.SetLen(buffer.EthHeaderLen + buffer.ARPHeaderLen)
		return true

	case opReply:
		if targetIP == id.IP {
			t.update(senderIP, senderMAC)
		}
		f.Reset()
		return true

	default:
		f.Reset()
		return false
	}
}

// Resolve prepares an outbound IP frame for transmission (uip_arp_out):
// given the frame already holding an IP packet starting at offset
// EthHeaderLen, it either prepends an Ethernet header addressed to the
// resolved next-hop MAC and returns true, or — if the next hop is unknown —
// overwrites the buffer with an ARP request for it and returns false. The
// caller (the TCP/IP output path) is expected to retransmit the original
// payload once the resulting reply arrives; nanostack relies on TCP's own
// retransmission timer for that, exactly as SPEC_FULL §4.5 specifies.
func (t *Table) Resolve(f *buffer.Frame, id buffer.Ident, dst buffer.IP) bool {
	var nextHop buffer.IP
	broadcast := dst == buffer.Broadcast

	if !broadcast {
		if id.SameSubnet(dst) {
			nextHop = dst
		} else {
			nextHop = id.Gateway
		}
	}

	b := f.Data

	if broadcast {
		copy(b[0:6], buffer.BroadcastMAC[:])
		copy(b[6:12], id.MAC[:])
		b[buffer.EthTypeOffset], b[buffer.EthTypeOffset+1] = byte(buffer.EthTypeIPv4>>8), byte(buffer.EthTypeIPv4)
		return true
	}

	mac, ok := t.Lookup(nextHop)
	if !ok {
		writeARPRequest(f, id, nextHop)
		return false
	}

	copy(b[0:6], mac[:])
	copy(b[6:12], id.MAC[:])
	b[buffer.EthTypeOffset], b[buffer.EthTypeOffset+1] = byte(buffer.EthTypeIPv4>>8), byte(buffer.EthTypeIPv4)
	return true
}

// writeARPRequest overwrites f with an ARP request for target, broadcast on
// the wire, exactly like uip_arp_out's "not in ARP table" branch.
func writeARPRequest(f *buffer.Frame, id buffer.Ident, target buffer.IP) {
	b := f.Data
	for i := range b[:buffer.EthHeaderLen+buffer.ARPHeaderLen] {
		b[i] = 0
	}

	copy(b[0:6], buffer.BroadcastMAC[:])
	copy(b[6:12], id.MAC[:])
	b[buffer.EthTypeOffset], b[buffer.EthTypeOffset+1] = byte(buffer.EthTypeARP>>8), byte(buffer.EthTypeARP)

	b[offHWType], b[offHWType+1] = 0, hwTypeEth
	b[offProto], b[offProto+1] = byte(buffer.EthTypeIPv4>>8), byte(buffer.EthTypeIPv4)
	b[offHWLen] = 6
	b[offProtoLen] = 4
	b[offOpcode], b[offOpcode+1] = 0, opRequest

	copy(b[offSHA:offSHA+6], id.MAC[:])
	copy(b[offSPA:offSPA+4], id.IP[:])
	// target hardware address left zero, per uip_arp.c.
	copy(b[offTPA:offTPA+4], target[:])

	f.SetLen(buffer.EthHeaderLen + buffer.ARPHeaderLen)
}
