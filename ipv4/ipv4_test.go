package ipv4

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dreadl0ck/nanostack/buffer"
)

func hostIdent() buffer.Ident {
	return buffer.Ident{
		IP:      buffer.IP{192, 168, 1, 2},
		Netmask: buffer.IP{255, 255, 255, 0},
		Gateway: buffer.IP{192, 168, 1, 1},
		MAC:     buffer.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
	}
}

func serialize(t *testing.T, eth *layers.Ethernet, ip *layers.IPv4, payload []byte) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func toFrame(b []byte, capacity int) *buffer.Frame {
	f := buffer.NewFrame(capacity)
	copy(f.Data, b)
	f.SetLen(len(b))
	return f
}

func TestInputAcceptsValidLocalPacket(t *testing.T) {
	id := hostIdent()

	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IPv4(10, 0, 0, 9),
		DstIP:    net.IPv4(192, 168, 1, 2),
	}

	raw := serialize(t, eth, ip, []byte("abcd"))
	frame := toFrame(raw, 1520)

	h, v := Input(frame, id)
	if v != Accept {
		t.Fatalf("verdict = %v, want Accept", v)
	}
	if h.SrcIP != (buffer.IP{10, 0, 0, 9}) {
		t.Fatalf("src = %v", h.SrcIP)
	}
	if string(h.Payload()) != "abcd" {
		t.Fatalf("payload = %q", h.Payload())
	}
}

func TestInputDropsForeignDestination(t *testing.T) {
	id := hostIdent()

	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 9), DstIP: net.IPv4(8, 8, 8, 8),
	}
	raw := serialize(t, eth, ip, nil)
	frame := toFrame(raw, 1520)

	_, v := Input(frame, id)
	if v != DropForeign {
		t.Fatalf("verdict = %v, want DropForeign", v)
	}
}

func TestInputDropsBadChecksum(t *testing.T) {
	id := hostIdent()

	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 9), DstIP: net.IPv4(192, 168, 1, 2),
	}
	raw := serialize(t, eth, ip, []byte("x"))
	// corrupt the checksum field in place.
	raw[buffer.EthHeaderLen+offChecksum] ^= 0xff
	frame := toFrame(raw, 1520)

	_, v := Input(frame, id)
	if v != DropMalformed {
		t.Fatalf("verdict = %v, want DropMalformed", v)
	}
}

func TestInputDropsWrongVersion(t *testing.T) {
	id := hostIdent()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IPv4(10, 0, 0, 9), DstIP: net.IPv4(192, 168, 1, 2)}
	raw := serialize(t, eth, ip, nil)
	raw[buffer.EthHeaderLen+offVHL] = (6 << 4) | 5 // version 6
	frame := toFrame(raw, 1520)

	_, v := Input(frame, id)
	if v != DropMalformed {
		t.Fatalf("verdict = %v, want DropMalformed", v)
	}
}

func TestBuildHeaderProducesValidChecksum(t *testing.T) {
	id := hostIdent()
	frame := buffer.NewFrame(200)
	payload := []byte("PONG")
	copy(frame.Data[buffer.EthHeaderLen+buffer.IPHeaderLen:], payload)

	total := BuildHeader(frame, id, buffer.IP{192, 168, 1, 50}, buffer.IPProtoTCP, len(payload), 0)
	if total != buffer.EthHeaderLen+buffer.IPHeaderLen+len(payload) {
		t.Fatalf("unexpected total length %d", total)
	}

	ipHdr := frame.Data[buffer.EthHeaderLen : buffer.EthHeaderLen+buffer.IPHeaderLen]
	if got := (ipHdr[offVHL] >> 4); got != 4 {
		t.Fatalf("version = %d", got)
	}
	if ipHdr[offTTL] != DefaultTTL {
		t.Fatalf("ttl = %d, want default", ipHdr[offTTL])
	}

	checksumOK := false
	sum := uint32(0)
	for i := 0; i < len(ipHdr); i += 2 {
		sum += uint32(ipHdr[i])<<8 | uint32(ipHdr[i+1])
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	if sum&0xffff == 0xffff {
		checksumOK = true
	}
	if !checksumOK {
		t.Fatalf("IP header checksum invalid")
	}
}

func TestSameSubnet(t *testing.T) {
	host := buffer.IP{192, 168, 1, 2}
	mask := buffer.IP{255, 255, 255, 0}
	if !SameSubnet(buffer.IP{192, 168, 1, 50}, host, mask) {
		t.Fatal("expected same subnet")
	}
	if SameSubnet(buffer.IP{10, 0, 0, 1}, host, mask) {
		t.Fatal("expected different subnet")
	}
}
