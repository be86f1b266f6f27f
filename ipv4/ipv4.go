// Package ipv4 implements IP input validation, routing, and output header
// construction: spec.md §4.1 steps 1-4 and C4. The checksum, length and
// version checks mirror uip_process's UIP_DATA preamble (see
// _examples/original_source/uip.h's vhlerr/fragerr/chkerr stat fields).
package ipv4

import (
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"

	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/chksum"
)

// header offsets, relative to the start of the IP header (after the
// Ethernet header), per RFC 791 and uip.h's uip_ip_hdr layout.
const (
	offVHL      = 0
	offTOS      = 1
	offTotalLen = 2
	offID       = 4
	offFlagsFrg = 6
	offTTL      = 8
	offProto    = 9
	offChecksum = 10
	offSrcIP    = 12
	offDstIP    = 16
)

// Verdict is the result of validating an inbound IP header.
type Verdict int

const (
	// Accept means the header is valid and addressed to the host (or a
	// broadcast); dispatch to the indicated protocol.
	Accept Verdict = iota
	// DropMalformed means the header failed a structural check (version,
	// header length, total length, or checksum) — spec.md §7 drop-and-count.
	DropMalformed
	// DropForeign means the destination is neither the host nor broadcast;
	// nanostack never forwards (spec.md §1 Non-goals).
	DropForeign
)

// Header is a parsed view over an inbound IP packet's fixed fields. It
// aliases the frame buffer — no field is copied out.
type Header struct {
	base      []byte
	TotalLen  int
	Protocol  uint8
	TTL       uint8
	SrcIP     buffer.IP
	DstIP     buffer.IP
	HeaderLen int
}

// Input validates an inbound Ethernet+IP frame per spec.md §4.1 steps 1-4
// and returns a Verdict plus, on Accept, the parsed Header. f.Len may be
// truncated down to the IP total length if the link layer padded the frame.
func Input(f *buffer.Frame, id buffer.Ident) (Header, Verdict) {
	if f.Len < buffer.EthHeaderLen+buffer.IPHeaderLen {
		return Header{}, DropMalformed
	}

	b := f.Data[buffer.EthHeaderLen:]
	vhl := b[offVHL]
	version := vhl >> 4
	ihl := int(vhl&0x0f) * 4

	if version != buffer.IPVersion4 || ihl < buffer.IPHeaderLen {
		return Header{}, DropMalformed
	}
	if f.Len < buffer.EthHeaderLen+ihl {
		return Header{}, DropMalformed
	}

	totalLen := int(b[offTotalLen])<<8 | int(b[offTotalLen+1])
	if totalLen > f.Len-buffer.EthHeaderLen {
		return Header{}, DropMalformed
	}
	// the link layer may have padded the frame (e.g. Ethernet's 60-byte
	// minimum) — truncate L down to the IP header's own idea of length.
	f.SetLen(buffer.EthHeaderLen + totalLen)

	if chksum.Sum(b[:ihl]) != 0xFFFF {
		return Header{}, DropMalformed
	}

	var h Header
	h.base = b
	h.TotalLen = totalLen
	h.Protocol = b[offProto]
	h.TTL = b[offTTL]
	h.HeaderLen = ihl
	copy(h.SrcIP[:], b[offSrcIP:offSrcIP+4])
	copy(h.DstIP[:], b[offDstIP:offDstIP+4])

	if h.DstIP != id.IP && h.DstIP != buffer.Broadcast {
		return h, DropForeign
	}

	return h, Accept
}

// Payload returns the IP payload (the bytes past the IP header), aliasing
// the frame buffer.
func (h Header) Payload() []byte {
	return h.base[h.HeaderLen:h.TotalLen]
}

// BuildHeader writes a 20-byte IPv4 header (no options emitted, per spec.md
// §6) in place at buffer[EthHeaderLen:], addressed from id.IP to dst,
// carrying proto and payloadLen bytes of payload, and returns the total
// frame length (Ethernet + IP header + payload).
func BuildHeader(f *buffer.Frame, id buffer.Ident, dst buffer.IP, proto uint8, payloadLen int, ttl uint8) int {
	b := f.Data[buffer.EthHeaderLen:]

	totalLen := buffer.IPHeaderLen + payloadLen

	b[offVHL] = (buffer.IPVersion4 << 4) | (buffer.IPHeaderLen / 4)
	b[offTOS] = 0
	b[offTotalLen], b[offTotalLen+1] = byte(totalLen>>8), byte(totalLen)
	b[offID], b[offID+1] = 0, 0
	b[offFlagsFrg], b[offFlagsFrg+1] = 0, 0
	if ttl == 0 {
		ttl = DefaultTTL
	}
	b[offTTL] = ttl
	b[offProto] = proto
	b[offChecksum], b[offChecksum+1] = 0, 0
	copy(b[offSrcIP:offSrcIP+4], id.IP[:])
	copy(b[offDstIP:offDstIP+4], dst[:])

	sum := ^chksum.Sum(b[:buffer.IPHeaderLen])
	b[offChecksum], b[offChecksum+1] = byte(sum>>8), byte(sum)

	total := buffer.EthHeaderLen + totalLen
	f.SetLen(total)
	return total
}

// DefaultTTL is the TTL nanostack stamps on outbound packets (UIP_TTL in
// uipopt.h is 64).
const DefaultTTL = 64

// SameSubnet reports whether addr is on the same subnet as the host,
// delegating to buffer.Ident — exposed here as the ipv4-facing name used by
// SPEC_FULL §4 item 2 (uip_ipaddr_maskcmp).
func SameSubnet(addr, host, mask buffer.IP) bool {
	id := buffer.Ident{IP: host, Netmask: mask}
	return id.SameSubnet(addr)
}

// Defragmenter wraps gopacket/ip4defrag's best-effort IPv4 reassembly
// (spec.md §1 Non-goals: "IP fragmentation reassembly (best-effort,
// optional)"). It is not on nanostack's single-buffer hot path — it is an
// opt-in helper for embedders that front nanostack with a capture-style
// frame source and want fragments coalesced before Input ever sees them,
// exactly the role gopacket/ip4defrag plays in the teacher's ReassemblePacket.
type Defragmenter struct {
	d *ip4defrag.IPv4Defragmenter
}

// NewDefragmenter constructs a Defragmenter.
func NewDefragmenter() *Defragmenter {
	return &Defragmenter{d: ip4defrag.NewIPv4Defragmenter()}
}

// Defrag feeds a parsed gopacket IPv4 layer through the defragmenter. It
// returns the reassembled layer (nil if more fragments are still pending)
// so the caller can re-encode it into the frame buffer before calling Input.
func (d *Defragmenter) Defrag(ip4 *layers.IPv4) (*layers.IPv4, error) {
	return d.d.DefragIPv4(ip4)
}
