// Command nanostack-harness is a small demo driver for the nanostack
// package: it feeds frames (from a recorded pcap file, or a synthetic ARP +
// ICMP echo sequence when no file is given) through Stack.Process and
// prints a stats summary. It replaces the teacher's cmd/transform one-shot
// commands and maltego/ integration, which have no analog in a TCP/IP stack
// (SPEC_FULL §1).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/event"
	"github.com/dreadl0ck/nanostack/stack"
)

var (
	pcapFile = flag.String("r", "", "pcap file to read frames from; if empty, runs a synthetic ARP+ICMP demo")
	hostIP   = flag.String("ip", "192.168.1.2", "host IPv4 address")
	hostMAC  = flag.String("mac", "00:11:22:33:44:55", "host MAC address")
	debug    = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	id, err := parseIdent(*hostIP, *hostMAC)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nanostack-harness:", err)
		os.Exit(1)
	}

	cfg := stack.Default(id)
	cfg.Debug = *debug

	app := func(c event.Conn, flags event.Flags) {
		if flags.Has(event.NEWDATA) {
			c.Send(c.Data())
		}
	}

	s, err := stack.New(cfg, app)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nanostack-harness: new stack:", err)
		os.Exit(1)
	}
	s.Listen(7) // echo

	if *pcapFile == "" {
		runSynthetic(s)
	} else if err := runPcap(s, *pcapFile); err != nil {
		fmt.Fprintln(os.Stderr, "nanostack-harness:", err)
		os.Exit(1)
	}

	s.Stats.Print()
}

func parseIdent(ipStr, macStr string) (buffer.Ident, error) {
	ip := net.ParseIP(ipStr).To4()
	if ip == nil {
		return buffer.Ident{}, fmt.Errorf("invalid host IP %q", ipStr)
	}
	mac, err := net.ParseMAC(macStr)
	if err != nil {
		return buffer.Ident{}, fmt.Errorf("invalid host MAC %q: %w", macStr, err)
	}
	var id buffer.Ident
	copy(id.IP[:], ip)
	copy(id.MAC[:], mac)
	id.Netmask = buffer.IP{255, 255, 255, 0}
	id.Gateway = buffer.IP{id.IP[0], id.IP[1], id.IP[2], 1}
	return id, nil
}

// runPcap feeds every Ethernet frame in path through the stack's DATA event,
// the same file-driven role gopacket/pcapgo plays for the teacher's offline
// capture processing. Fragmented IPv4 packets are routed through
// Stack.Defrag first and re-serialized once reassembled, since Process's
// own Input never reassembles (spec.md §1 Non-goals).
func runPcap(s *stack.Stack, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("open pcap: %w", err)
	}

	var totalBytes uint64
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break // EOF or truncated capture; best-effort like the teacher's readers
		}

		data, ok := reassemble(s, data)
		if !ok {
			continue // fragment absorbed, reassembly still pending
		}
		if len(data) > s.Frame.Capacity() {
			continue
		}
		copy(s.Frame.Data, data)
		s.Frame.SetLen(len(data))
		totalBytes += uint64(len(data))
		s.Process(event.DATA, 0)
	}

	fmt.Printf("processed %s from %s\n", humanize.Bytes(totalBytes), path)
	return nil
}

// reassemble routes a fragmented IPv4 packet through Stack.Defrag and
// re-serializes it once complete. Non-fragment packets (the common case)
// pass through untouched.
func reassemble(s *stack.Stack, data []byte) ([]byte, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return data, true
	}
	ip4 := ipLayer.(*layers.IPv4)
	if ip4.Flags&layers.IPv4MoreFragments == 0 && ip4.FragOffset == 0 {
		return data, true
	}

	whole, err := s.Defrag(ip4)
	if err != nil || whole == nil {
		return nil, false
	}

	ethLayer := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, whole, gopacket.Payload(whole.LayerPayload())); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// runSynthetic demonstrates spec.md §8's E1 (ICMP echo) without needing a
// capture file on disk.
func runSynthetic(s *stack.Stack) {
	id := s.Ident()
	peerIP := net.IPv4(192, 168, 1, 50).To4()
	peerMAC := net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}

	eth := &layers.Ethernet{SrcMAC: peerMAC, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: peerIP, DstIP: net.IP(id.IP[:])}
	echo := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, echo, gopacket.Payload([]byte("nanostack"))); err != nil {
		fmt.Fprintln(os.Stderr, "nanostack-harness: serialize:", err)
		return
	}

	raw := buf.Bytes()
	copy(s.Frame.Data, raw)
	s.Frame.SetLen(len(raw))
	s.Process(event.DATA, 0)
}
