package tcp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/chksum"
	"github.com/dreadl0ck/nanostack/ipv4"
)

// writeSegment builds a TCP segment (header, optional MSS option, payload)
// in place at buffer[EthHeaderLen+IPHeaderLen:], then builds the IP header
// around it via ipv4.BuildHeader. It returns the total frame length. This
// is the only place nanostack emits TCP wire bytes — spec.md §4.6
// "single-buffer in-place rewrite discipline".
func writeSegment(f *buffer.Frame, id buffer.Ident, dstIP buffer.IP, dstPort, srcPort uint16, seq, ack Seq, flags uint8, window uint16, mss uint16, payload []byte) int {
	tcpStart := buffer.EthHeaderLen + buffer.IPHeaderLen
	b := f.Data

	withMSS := flags&FlagSYN != 0
	optLen := 0
	if withMSS {
		optLen = 4
	}
	hdrLen := 20 + optLen

	b[tcpStart+offSrcPort], b[tcpStart+offSrcPort+1] = byte(srcPort>>8), byte(srcPort)
	b[tcpStart+offDstPort], b[tcpStart+offDstPort+1] = byte(dstPort>>8), byte(dstPort)
	putSeq(b[tcpStart+offSeq:], seq)
	putSeq(b[tcpStart+offAck:], ack)
	b[tcpStart+offDataOfs] = byte((hdrLen / 4) << 4)
	b[tcpStart+offFlags] = flags
	b[tcpStart+offWindow], b[tcpStart+offWindow+1] = byte(window>>8), byte(window)
	b[tcpStart+offChecksum], b[tcpStart+offChecksum+1] = 0, 0
	b[tcpStart+offUrgent], b[tcpStart+offUrgent+1] = 0, 0

	if withMSS {
		b[tcpStart+offOptions] = optKindMSS
		b[tcpStart+offOptions+1] = optLenMSS
		b[tcpStart+offOptions+2] = byte(mss >> 8)
		b[tcpStart+offOptions+3] = byte(mss)
	}

	n := copy(b[tcpStart+hdrLen:], payload)
	segLen := hdrLen + n

	pseudo := chksum.PseudoHeaderSum(id.IP, dstIP, 6, uint16(segLen))
	sum := ^chksum.Continue(pseudo, b[tcpStart:tcpStart+segLen])
	b[tcpStart+offChecksum], b[tcpStart+offChecksum+1] = byte(sum>>8), byte(sum)

	return ipv4.BuildHeader(f, id, dstIP, buffer.IPProtoTCP, segLen, 0)
}

func putSeq(b []byte, s Seq) {
	v := uint32(s)
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getSeq(b []byte) Seq {
	return Seq(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}
