package icmp

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dreadl0ck/nanostack/buffer"
)

// E1 from spec.md §8: inbound echo-request id=0x1234 seq=1 payload "abcd"
// must come back as an echo-reply with swapped addresses and valid
// checksums, payload untouched.
func TestEchoRequestBecomesReply(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IPv4(10, 0, 0, 9), DstIP: net.IPv4(192, 168, 1, 2),
	}
	echo := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       0x1234,
		Seq:      1,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, echo, gopacket.Payload([]byte("abcd"))); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	raw := buf.Bytes()
	frame := buffer.NewFrame(len(raw))
	copy(frame.Data, raw)
	frame.SetLen(len(raw))

	HandleEchoRequest(frame, buffer.IPHeaderLen)

	if frame.Len != len(raw) {
		t.Fatalf("length changed: got %d want %d", frame.Len, len(raw))
	}

	icmpStart := buffer.EthHeaderLen + buffer.IPHeaderLen
	if frame.Data[icmpStart+offType] != TypeEchoReply {
		t.Fatalf("type = %d, want echo-reply", frame.Data[icmpStart+offType])
	}

	// payload must survive untouched.
	payload := frame.Data[icmpStart+buffer.ICMPHeaderLen : frame.Len]
	if string(payload) != "abcd" {
		t.Fatalf("payload = %q", payload)
	}

	// addresses must be swapped.
	ipHdr := frame.Data[buffer.EthHeaderLen : buffer.EthHeaderLen+buffer.IPHeaderLen]
	if ipHdr[ipOffSrcIP] != 192 || ipHdr[ipOffDstIP] != 10 {
		t.Fatalf("ip addresses not swapped: %v", ipHdr[ipOffSrcIP:ipOffDstIP+4])
	}
	if frame.Data[0] != 0xaa {
		t.Fatalf("ethernet dst not swapped to old src: %x", frame.Data[0:6])
	}

	// both checksums must be valid.
	var sum uint32
	for i := 0; i < len(ipHdr); i += 2 {
		sum += uint32(ipHdr[i])<<8 | uint32(ipHdr[i+1])
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	if sum&0xffff != 0xffff {
		t.Fatalf("IP checksum invalid")
	}

	icmpMsg := frame.Data[icmpStart:frame.Len]
	sum = 0
	for i := 0; i+1 < len(icmpMsg); i += 2 {
		sum += uint32(icmpMsg[i])<<8 | uint32(icmpMsg[i+1])
	}
	if len(icmpMsg)%2 == 1 {
		sum += uint32(icmpMsg[len(icmpMsg)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	if sum&0xffff != 0xffff {
		t.Fatalf("ICMP checksum invalid")
	}
}

func TestNonEchoTypeDropped(t *testing.T) {
	frame := buffer.NewFrame(64)
	frame.SetLen(buffer.EthHeaderLen + buffer.IPHeaderLen + buffer.ICMPHeaderLen)
	frame.Data[buffer.EthHeaderLen+buffer.IPHeaderLen+offType] = 3 // dest unreachable

	HandleEchoRequest(frame, buffer.IPHeaderLen)

	if frame.Len != 0 {
		t.Fatalf("expected drop, got len %d", frame.Len)
	}
}
