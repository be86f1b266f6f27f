package tcp

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/event"
)

func hostIdent() buffer.Ident {
	return buffer.Ident{
		IP:      buffer.IP{192, 168, 1, 2},
		Netmask: buffer.IP{255, 255, 255, 0},
		Gateway: buffer.IP{192, 168, 1, 1},
		MAC:     buffer.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
	}
}

// buildSegment produces a complete Ethernet+IPv4+TCP frame carrying payload,
// using gopacket purely as a test fixture generator — the production code
// path never touches this package (SPEC_FULL's "oracle, not the parser").
func buildSegment(t *testing.T, id buffer.Ident, srcIP buffer.IP, srcPort, dstPort uint16, seq, ack uint32, flags uint8, window uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{1, 2, 3, 4, 5, 6}, DstMAC: net.HardwareAddr(id.MAC[:]), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.IP(srcIP[:]), DstIP: net.IP(id.IP[:])}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort),
		Seq: seq, Ack: ack, Window: window,
		SYN: flags&FlagSYN != 0, ACK: flags&FlagACK != 0, FIN: flags&FlagFIN != 0,
		RST: flags&FlagRST != 0, PSH: flags&FlagPSH != 0,
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
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

type recordingApp struct {
	calls []event.Flags
	send  []byte
	close bool
}

func (r *recordingApp) handle(c event.Conn, flags event.Flags) {
	r.calls = append(r.calls, flags)
	if flags.Has(event.CONNECTED) && r.send != nil {
		c.Send(r.send)
	}
	if flags.Has(event.NEWDATA) {
		c.Send(c.Data())
	}
	if r.close {
		c.Close()
	}
}

func TestThreeWayHandshakeServerSide(t *testing.T) {
	id := hostIdent()
	table := NewTable(4, 4)
	table.Listen(80)
	f := buffer.NewFrame(1520)
	app := &recordingApp{}

	clientIP := buffer.IP{192, 168, 1, 50}
	raw := buildSegment(t, id, clientIP, 40000, 80, 1000, 0, FlagSYN, 8192, nil)
	copy(f.Data, raw)
	f.SetLen(len(raw))

	if !Input(table, id, f, buffer.IPHeaderLen, clientIP, app.handle) {
		t.Fatal("expected SYN|ACK reply")
	}
	s := table.findExact(80, clientIP, 40000)
	if s == nil || s.State != SynRcvd {
		t.Fatalf("state = %v, want SYN_RCVD", s)
	}

	serverISN := uint32(s.SndUna)
	raw = buildSegment(t, id, clientIP, 40000, 80, 1001, serverISN+1, FlagACK, 8192, nil)
	copy(f.Data, raw)
	f.SetLen(len(raw))

	Input(table, id, f, buffer.IPHeaderLen, clientIP, app.handle)
	if s.State != Established {
		t.Fatalf("state = %v, want ESTABLISHED", s.State)
	}
	if len(app.calls) == 0 || !app.calls[len(app.calls)-1].Has(event.CONNECTED) {
		t.Fatalf("app was not notified CONNECTED: %v", app.calls)
	}
}

func TestDataEchoAfterHandshake(t *testing.T) {
	id := hostIdent()
	clientIP := buffer.IP{192, 168, 1, 50}
	table := NewTable(4, 4)
	s := table.Connect(clientIP, 9000, 33000, DefaultMSS)
	s.State = Established
	s.RcvNxt = 500
	s.SndNxt = 100
	s.SndUna = 100
	s.InFlight = 0

	f := buffer.NewFrame(1520)
	app := &recordingApp{}

	raw := buildSegment(t, id, clientIP, 9000, 33000, 500, 100, FlagACK|FlagPSH, 8192, []byte("ping"))
	copy(f.Data, raw)
	f.SetLen(len(raw))

	if !Input(table, id, f, buffer.IPHeaderLen, clientIP, app.handle) {
		t.Fatal("expected a reply segment")
	}
	if s.RcvNxt != 504 {
		t.Fatalf("RcvNxt = %d, want 504", s.RcvNxt)
	}
	foundNewData := false
	for _, c := range app.calls {
		if c.Has(event.NEWDATA) {
			foundNewData = true
		}
	}
	if !foundNewData {
		t.Fatalf("app not notified of NEWDATA: %v", app.calls)
	}
	if s.InFlight != 4 {
		t.Fatalf("InFlight = %d, want 4 (echoed payload in flight)", s.InFlight)
	}
}

func TestRetransmissionBackoffAndGiveUp(t *testing.T) {
	id := hostIdent()
	clientIP := buffer.IP{192, 168, 1, 50}
	table := NewTable(4, 4)
	s := table.Connect(clientIP, 9000, 33000, DefaultMSS)
	s.State = Established
	s.InFlight = 4
	s.pendingSend = []byte("data")
	s.sentFlags = FlagACK | FlagPSH
	s.Timer = 0

	f := buffer.NewFrame(1520)
	app := &recordingApp{}

	prevRTO := uint8(0)
	for i := 0; i < MaxRTX; i++ {
		s.Timer = 0
		if !table.ProcessTimer(0, id, f, app.handle) {
			t.Fatalf("attempt %d: expected a retransmission", i)
		}
		if i > 0 && s.RTO < prevRTO {
			t.Fatalf("attempt %d: RTO decreased (%d -> %d)", i, prevRTO, s.RTO)
		}
		prevRTO = s.RTO
	}

	s.Timer = 0
	if table.ProcessTimer(0, id, f, app.handle) {
		t.Fatalf("expected no more retransmissions past MaxRTX")
	}
	if s.State != Closed {
		t.Fatalf("state = %v, want CLOSED after giving up", s.State)
	}

	sawTimedOut := false
	for _, c := range app.calls {
		if c.Has(event.TIMEDOUT) {
			sawTimedOut = true
		}
	}
	if !sawTimedOut {
		t.Fatal("app not notified TIMEDOUT")
	}
}

func TestFinTeardownEstablishedToClosed(t *testing.T) {
	id := hostIdent()
	clientIP := buffer.IP{192, 168, 1, 50}
	table := NewTable(4, 4)
	s := table.Connect(clientIP, 9000, 33000, DefaultMSS)
	s.State = Established
	s.RcvNxt = 500
	s.SndNxt = 100
	s.SndUna = 100
	s.InFlight = 0

	f := buffer.NewFrame(1520)
	app := &recordingApp{}

	raw := buildSegment(t, id, clientIP, 9000, 33000, 500, 100, FlagACK|FlagFIN, 8192, nil)
	copy(f.Data, raw)
	f.SetLen(len(raw))

	if !Input(table, id, f, buffer.IPHeaderLen, clientIP, app.handle) {
		t.Fatal("expected FIN|ACK reply")
	}
	if s.State != LastAck {
		t.Fatalf("state = %v, want LAST_ACK", s.State)
	}
	ourFinSeq := uint32(s.SndUna)

	raw = buildSegment(t, id, clientIP, 9000, 33000, 501, ourFinSeq+1, FlagACK, 8192, nil)
	copy(f.Data, raw)
	f.SetLen(len(raw))

	Input(table, id, f, buffer.IPHeaderLen, clientIP, app.handle)
	if s.State != Closed {
		t.Fatalf("state = %v, want CLOSED", s.State)
	}
}

func TestStraySegmentGetsReset(t *testing.T) {
	id := hostIdent()
	clientIP := buffer.IP{192, 168, 1, 50}
	table := NewTable(4, 4)
	f := buffer.NewFrame(1520)

	raw := buildSegment(t, id, clientIP, 9000, 33000, 500, 100, FlagACK, 8192, nil)
	copy(f.Data, raw)
	f.SetLen(len(raw))

	if !Input(table, id, f, buffer.IPHeaderLen, clientIP, nil) {
		t.Fatal("expected a RST reply for a segment naming no connection")
	}
	tcpStart := buffer.EthHeaderLen + buffer.IPHeaderLen
	if f.Data[tcpStart+offFlags] != FlagRST {
		t.Fatalf("flags = %#x, want RST only", f.Data[tcpStart+offFlags])
	}
	if getSeq(f.Data[tcpStart+offSeq:]) != 100 {
		t.Fatalf("reset seq = %d, want 100 (the stray segment's ack)", getSeq(f.Data[tcpStart+offSeq:]))
	}
}
