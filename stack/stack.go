package stack

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/dreadl0ck/nanostack/arp"
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/event"
	"github.com/dreadl0ck/nanostack/icmp"
	"github.com/dreadl0ck/nanostack/internal/nslog"
	"github.com/dreadl0ck/nanostack/ipv4"
	"github.com/dreadl0ck/nanostack/tcp"
	"github.com/dreadl0ck/nanostack/udp"
)

// Stack owns the single shared Frame and every protocol table, the "single
// owning context object" spec.md §9 calls for instead of package-level
// mutable globals. One Stack serves one host identity; process() in spec.md
// §4.1 is exposed here as Process.
type Stack struct {
	id  buffer.Ident
	cfg Config

	Frame *buffer.Frame

	ARP *arp.Table
	TCP *tcp.Table
	UDP *udp.Table

	defrag *ipv4.Defragmenter

	App event.App

	Stats *Stats
	log   *nslog.Logger
}

// New validates cfg and allocates every fixed table and the single shared
// frame buffer. app is the one callback invoked for every TCP and UDP event
// (spec.md §6).
func New(cfg Config, app event.App) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{
		id:    cfg.ident(),
		cfg:   cfg,
		Frame: buffer.NewFrame(cfg.BufferSize),
		ARP:   arp.NewTable(cfg.NumARPConns),
		TCP:   tcp.NewTable(cfg.NumTCPConns, cfg.NumListeners),
		UDP:   udp.NewTable(cfg.NumUDPConns),
		App:   app,
		Stats: &Stats{},
		log:   nslog.New(cfg.Debug),
	}

	if !cfg.NoDefrag {
		s.defrag = ipv4.NewDefragmenter()
	}

	s.TCP.IgnoreFSMerr = cfg.IgnoreFSMerr
	s.TCP.OnProtoErr = func() {
		s.Stats.incTCPProtoErr()
		s.log.Errorf("tcp: segment acked data never sent")
	}
	s.TCP.OnAbort = func(slot *tcp.Slot) {
		s.log.DumpSlot(fmt.Sprintf("tcp: slot aborted (state %v)", slot.State), slot)
	}

	return s, nil
}

// Ident returns the host identity this Stack was configured with.
func (s *Stack) Ident() buffer.Ident { return s.id }

// Listen adds port to the TCP listen table (SPEC_FULL §4 item 1,
// uip_listen).
func (s *Stack) Listen(port uint16) bool { return s.TCP.Listen(port) }

// Unlisten removes port from the TCP listen table (uip_unlisten).
func (s *Stack) Unlisten(port uint16) { s.TCP.Unlisten(port) }

// Connect begins an active TCP open to (remoteIP, remotePort) from
// localPort, writing the initial SYN into Frame. Returns nil if no slot is
// free (spec.md §4.4 "If no slot is free, drop and count syndrop").
func (s *Stack) Connect(remoteIP buffer.IP, remotePort, localPort uint16) *tcp.Slot {
	slot := s.TCP.Connect(remoteIP, remotePort, localPort, tcp.DefaultMSS)
	if slot == nil {
		s.Stats.incTCPSynDrop()
		return nil
	}
	tcp.OpenSYN(slot, s.id, s.Frame)
	return slot
}

// Defrag exposes the optional IP reassembly helper (nil when Config.NoDefrag
// is set) to embedders feeding Stack from a capture-style frame source — see
// ipv4.Defragmenter's own doc comment for why this sits ahead of Process
// rather than inside it. Callers re-encode the returned layer and hand the
// result to Process(DATA, ...) themselves; a nil, nil return means ip4 was a
// fragment still awaited.
func (s *Stack) Defrag(ip4 *layers.IPv4) (*layers.IPv4, error) {
	if s.defrag == nil {
		return ip4, nil
	}
	return s.defrag.Defrag(ip4)
}

// NewUDPConnection installs a UDP slot exactly as udp.Table.NewConnection
// does, for the driver's UDPSend/UDPTimer scheduling.
func (s *Stack) NewUDPConnection(localPort uint16, remoteIP buffer.IP, remotePort uint16, ttl uint8) *udp.Slot {
	return s.UDP.NewConnection(localPort, remoteIP, remotePort, ttl)
}

// Process is spec.md §4.1's process(event_kind) dispatcher, the single
// entry point a driver calls for every event kind. It returns true if a
// reply frame was produced in Frame (f.Len holds its length); spec.md's
// "at most one outbound frame per call" postcondition holds for every
// return path.
func (s *Stack) Process(kind event.Kind, connIndex int) bool {
	switch kind {
	case event.DATA:
		return s.processData()
	case event.TIMER:
		return s.TCP.ProcessTimer(connIndex, s.id, s.Frame, s.App)
	case event.TCPPoll:
		return s.TCP.ProcessPoll(connIndex, s.id, s.Frame, s.App)
	case event.UDPTimer, event.UDPSend:
		return s.processUDPEvent(connIndex)
	default:
		return false
	}
}

// processData implements spec.md §4.1 steps 1 onward: Ethertype dispatch to
// ARP or IP, then IP protocol dispatch to ICMP/UDP/TCP.
func (s *Stack) processData() bool {
	f := s.Frame
	if f.Len < buffer.EthHeaderLen {
		f.Reset()
		return false
	}

	ethType := uint16(f.Data[buffer.EthTypeOffset])<<8 | uint16(f.Data[buffer.EthTypeOffset+1])
	switch ethType {
	case buffer.EthTypeARP:
		if ok := s.ARP.HandleRequest(f, s.id); !ok {
			s.Stats.incARPInvalid()
			return false
		}
		if f.Len > 0 {
			return true // rewritten into a reply
		}
		return false

	case buffer.EthTypeIPv4:
		return s.processIPv4()

	default:
		f.Reset()
		return false
	}
}

func (s *Stack) processIPv4() bool {
	f := s.Frame
	h, verdict := ipv4.Input(f, s.id)
	switch verdict {
	case ipv4.DropMalformed:
		s.Stats.incIPDropMalformed()
		f.Reset()
		return false
	case ipv4.DropForeign:
		s.Stats.incIPDropForeign()
		f.Reset()
		return false
	}

	switch h.Protocol {
	case buffer.IPProtoICMP:
		before := f.Len
		icmp.HandleEchoRequest(f, h.HeaderLen)
		if f.Len > 0 && f.Len == before {
			s.Stats.incICMPEchoReplied()
			if !s.resolveAndSend(h.SrcIP) {
				return false
			}
			return true
		}
		s.Stats.incICMPDropped()
		return false

	case buffer.IPProtoUDP:
		return s.processUDPData(h)

	case buffer.IPProtoTCP:
		return s.processTCPData(h)

	default:
		f.Reset()
		return false
	}
}

func (s *Stack) processUDPData(h ipv4.Header) bool {
	f := s.Frame
	slot, payload, ok := udp.Input(f, h.HeaderLen, h.SrcIP, s.UDP)
	if !ok {
		s.Stats.incUDPDropped()
		f.Reset()
		return false
	}
	s.Stats.incUDPDelivered()

	slot.SetData(payload)
	if s.App != nil {
		s.App(slot, event.NEWDATA)
	}
	return s.emitUDPIfPending(slot)
}

// processUDPEvent drives a UDP slot's app on a timer/poll-style schedule
// with no inbound datagram (spec.md §4.3's UDPTimer/UDPSend events), giving
// it a chance to originate a send.
func (s *Stack) processUDPEvent(connIndex int) bool {
	slots := s.UDP.Slots()
	if connIndex < 0 || connIndex >= len(slots) {
		return false
	}
	slot := &slots[connIndex]
	if slot.Free() {
		return false
	}
	slot.SetData(nil)
	if s.App != nil {
		s.App(slot, event.POLL)
	}
	return s.emitUDPIfPending(slot)
}

func (s *Stack) emitUDPIfPending(slot *udp.Slot) bool {
	buf, ok := slot.TakePending()
	if !ok {
		return false
	}
	dstIP, dstPort := slot.ReplyAddr()
	copy(s.Frame.Data[buffer.EthHeaderLen+buffer.IPHeaderLen+buffer.UDPHeaderLen:], buf)
	n := udp.Output(s.Frame, s.id.IP, dstIP, slot.LocalPort, dstPort, len(buf), s.cfg.Checksum)
	ipv4.BuildHeader(s.Frame, s.id, dstIP, buffer.IPProtoUDP, n, slot.TTL)
	return s.resolveAndSend(dstIP)
}

func (s *Stack) processTCPData(h ipv4.Header) bool {
	s.log.Received(h.SrcIP.String(), s.Frame.Len)
	sent := tcp.Input(s.TCP, s.id, s.Frame, h.HeaderLen, h.SrcIP, s.wrappedApp())
	if !sent {
		s.Frame.Reset()
		return false
	}
	s.log.Sent(h.SrcIP.String(), s.Frame.Len)
	return s.resolveAndSend(h.SrcIP)
}

// wrappedApp intercepts event flags purely for Stats bookkeeping — spec.md
// §7's drop-and-count discipline extended to connection-level outcomes —
// before handing the event to the embedder's own App.
func (s *Stack) wrappedApp() event.App {
	return func(c event.Conn, flags event.Flags) {
		if flags.Has(event.CONNECTED) {
			s.Stats.incTCPConnected()
		}
		if flags.Has(event.ACKDATA) {
			s.Stats.incTCPAcks()
		}
		if flags.Has(event.REXMIT) {
			s.Stats.incTCPRexmit()
		}
		if flags.Has(event.TIMEDOUT) {
			s.Stats.incTCPTimedOut()
		}
		if flags.Has(event.ABORT) || flags.Has(event.CLOSE) {
			s.Stats.incTCPClosed()
		}
		if s.App != nil {
			s.App(c, flags)
		}
	}
}

// resolveAndSend finishes an outbound frame already built up to and
// including the IP header by resolving dst's link-layer address (spec.md
// §4.5): on a hit it prepends the Ethernet header; on a miss it has
// overwritten Frame with an ARP request instead (the caller's own
// retransmission timer is relied on to retry the payload, per SPEC_FULL
// §4.5). Either way Frame holds a frame to transmit, so it reports true.
func (s *Stack) resolveAndSend(dst buffer.IP) bool {
	if s.ARP.Resolve(s.Frame, s.id, dst) {
		s.Stats.incARPHit()
		return true
	}
	s.Stats.incARPMiss()
	return true // an ARP request is still a frame to send
}

// TickARP advances the ARP aging clock by one ~10-second period
// (SPEC_FULL §4 item 3, arp.MaxAgeTicks).
func (s *Stack) TickARP() { s.ARP.Tick() }

// NumTCPConns returns the TCP connection table's fixed size, for a driver's
// TIMER sweep (spec.md §6: "for each connection index i... process(TIMER)").
func (s *Stack) NumTCPConns() int { return s.TCP.Len() }

// NumUDPConns returns the UDP connection table's fixed size.
func (s *Stack) NumUDPConns() int { return len(s.UDP.Slots()) }

// String implements fmt.Stringer for debug logging convenience.
func (s *Stack) String() string {
	return fmt.Sprintf("Stack{ip=%s mac=%s}", s.id.IP, s.id.MAC)
}
