// Package icmp implements the echo (ping) responder: spec.md §4.2 / C5.
// An inbound echo-request is rewritten into an echo-reply entirely in
// place — type flipped, source/destination swapped, checksums updated
// incrementally via chksum.UpdateUint16 rather than recomputed from
// scratch, exactly as uip_process's ICMP branch does (see
// _examples/original_source/uip.h, UIP_ICMP_BUF / uip_icmpechohdr).
package icmp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/chksum"
)

const (
	TypeEchoReply   = 0
	TypeEchoRequest = 8
)

// icmp header offsets, relative to the start of the ICMP message.
const (
	offType     = 0
	offCode     = 1
	offChecksum = 2
)

// ip header field offsets duplicated from ipv4 to avoid a cyclic import;
// icmp only ever touches the source/destination address swap.
const (
	ipOffTTL      = 8
	ipOffProto    = 9
	ipOffChecksum = 10
	ipOffSrcIP    = 12
	ipOffDstIP    = 16
)

// HandleEchoRequest processes an inbound ICMP message already validated by
// ipv4.Input (ipHeaderLen is the IP header's length in bytes, no options
// emitted so normally buffer.IPHeaderLen). Any ICMP type other than
// echo-request drains the frame, per spec.md §4.2 ("Any other ICMP type is
// dropped"). On an echo-request, the frame is rewritten into an echo-reply
// in place and f.Len is left unchanged.
func HandleEchoRequest(f *buffer.Frame, ipHeaderLen int) {
	ipStart := buffer.EthHeaderLen
	icmpStart := ipStart + ipHeaderLen

	if f.Len < icmpStart+buffer.ICMPHeaderLen {
		f.Reset()
		return
	}

	b := f.Data
	if b[icmpStart+offType] != TypeEchoRequest {
		f.Reset()
		return
	}

	oldType := uint16(b[icmpStart+offType])<<8 | uint16(b[icmpStart+offType+1])
	b[icmpStart+offType] = TypeEchoReply
	newType := uint16(b[icmpStart+offType])<<8 | uint16(b[icmpStart+offType+1])

	icmpChecksum := uint16(b[icmpStart+offChecksum])<<8 | uint16(b[icmpStart+offChecksum+1])
	icmpChecksum = chksum.UpdateUint16(icmpChecksum, oldType, newType)
	b[icmpStart+offChecksum] = byte(icmpChecksum >> 8)
	b[icmpStart+offChecksum+1] = byte(icmpChecksum)

	ip := b[ipStart : ipStart+ipHeaderLen]
	var src, dst [4]byte
	copy(src[:], ip[ipOffSrcIP:ipOffSrcIP+4])
	copy(dst[:], ip[ipOffDstIP:ipOffDstIP+4])
	copy(ip[ipOffSrcIP:ipOffSrcIP+4], dst[:])
	copy(ip[ipOffDstIP:ipOffDstIP+4], src[:])
	// swapping the two addresses leaves the ones-complement sum of the
	// header unchanged, so the existing IP checksum stays valid as is.

	// swap the Ethernet dst/src addresses too, so the reply goes straight
	// back to the requester without needing a fresh ARP resolution.
	var ethDst, ethSrc [6]byte
	copy(ethDst[:], b[0:6])
	copy(ethSrc[:], b[6:12])
	copy(b[0:6], ethSrc[:])
	copy(b[6:12], ethDst[:])
}
