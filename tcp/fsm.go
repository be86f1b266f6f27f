package tcp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/chksum"
	"github.com/dreadl0ck/nanostack/event"
)

// segHeader is a parsed, non-owning view over an inbound TCP header.
type segHeader struct {
	SrcPort, DstPort uint16
	Seq, Ack         Seq
	Flags            uint8
	Window           uint16
	HdrLen           int
}

func parseSegment(b []byte, segLen int) (segHeader, bool) {
	if segLen < 20 {
		return segHeader{}, false
	}
	hdrLen := int(b[offDataOfs]>>4) * 4
	if hdrLen < 20 || hdrLen > segLen {
		return segHeader{}, false
	}
	var h segHeader
	h.SrcPort = uint16(b[offSrcPort])<<8 | uint16(b[offSrcPort+1])
	h.DstPort = uint16(b[offDstPort])<<8 | uint16(b[offDstPort+1])
	h.Seq = getSeq(b[offSeq:])
	h.Ack = getSeq(b[offAck:])
	h.Flags = b[offFlags]
	h.Window = uint16(b[offWindow])<<8 | uint16(b[offWindow+1])
	h.HdrLen = hdrLen
	return h, true
}

// Input handles one inbound TCP segment, already known to sit at
// buffer[EthHeaderLen+ipHeaderLen:f.Len] and addressed to this host
// (spec.md §4.4 "Finding the connection" through the full state machine).
// It returns true if a reply was written into f, in which case f.Len has
// been updated to the reply's length; spec.md's at-most-one-frame-per-call
// postcondition holds for every return path.
func Input(t *Table, id buffer.Ident, f *buffer.Frame, ipHeaderLen int, srcIP buffer.IP, app event.App) bool {
	tcpStart := buffer.EthHeaderLen + ipHeaderLen
	segLen := f.Len - tcpStart
	if segLen < 0 {
		return false
	}
	b := f.Data[tcpStart:]

	pseudo := chksum.PseudoHeaderSum(srcIP, id.IP, 6, uint16(segLen))
	if chksum.Continue(pseudo, b[:segLen]) != 0xFFFF {
		return false // bad checksum, silently dropped (spec.md §7)
	}

	h, ok := parseSegment(b, segLen)
	if !ok {
		return false
	}
	payload := b[h.HdrLen:segLen]

	s := t.findExact(h.DstPort, srcIP, h.SrcPort)
	if s == nil {
		if h.Flags&FlagRST != 0 {
			return false
		}
		if h.Flags&FlagSYN != 0 && h.Flags&FlagACK == 0 && t.isListening(h.DstPort) {
			return acceptSYN(t, id, f, srcIP, h, app)
		}
		return sendReset(f, id, srcIP, h, len(payload))
	}

	return handleSegment(t, s, id, f, h, payload, app)
}

// acceptSYN allocates a fresh slot for a passive open and replies SYN|ACK
// (spec.md §4.4 "CLOSED -> SYN_RCVD").
func acceptSYN(t *Table, id buffer.Ident, f *buffer.Frame, srcIP buffer.IP, h segHeader, app event.App) bool {
	s := t.freeSlot()
	if s == nil {
		return false // syndrop: no free slot (spec.md §7)
	}

	isn := t.nextISN()
	*s = Slot{
		RemoteIP:   srcIP,
		RemotePort: h.SrcPort,
		LocalPort:  h.DstPort,
		RcvNxt:     h.Seq.Add(1),
		SndNxt:     isn.Add(1), // our SYN consumes sequence number isn
		SndUna:     isn,
		InFlight:   1,
		MSS:        DefaultMSS,
		InitialMSS: DefaultMSS,
		RTO:        DefaultRTO,
		State:      SynRcvd,
		Timer:      DefaultRTO,
		sentFlags:  FlagSYN | FlagACK,
	}
	writeSegment(f, id, s.RemoteIP, s.RemotePort, s.LocalPort, s.SndUna, s.RcvNxt, FlagSYN|FlagACK, s.window(), s.MSS, nil)
	return true
}

// sendReset implements RFC 793 §3.4's reset generation for a segment that
// names no existing connection (spec.md §4.4 "no matching slot... RST").
func sendReset(f *buffer.Frame, id buffer.Ident, dstIP buffer.IP, h segHeader, payloadLen int) bool {
	if h.Flags&FlagRST != 0 {
		return false
	}
	var seq, ack Seq
	flags := FlagRST
	if h.Flags&FlagACK != 0 {
		seq = h.Ack
	} else {
		flags |= FlagACK
		ack = h.Seq.Add(uint32(payloadLen))
		if h.Flags&FlagSYN != 0 {
			ack = ack.Add(1)
		}
		if h.Flags&FlagFIN != 0 {
			ack = ack.Add(1)
		}
	}
	writeSegment(f, id, dstIP, h.SrcPort, h.DstPort, seq, ack, flags, 0, 0, nil)
	return true
}

// abort frees s and, unless quiet, emits an RST (spec.md §4.4 "Abort").
func abort(t *Table, s *Slot, id buffer.Ident, f *buffer.Frame, quiet bool) bool {
	if t.OnAbort != nil {
		snapshot := *s
		t.OnAbort(&snapshot)
	}
	remoteIP, remotePort, localPort := s.RemoteIP, s.RemotePort, s.LocalPort
	seq := s.SndNxt
	*s = Slot{}
	if quiet {
		return false
	}
	writeSegment(f, id, remoteIP, remotePort, localPort, seq, 0, FlagRST, 0, 0, nil)
	return true
}

func handleSegment(t *Table, s *Slot, id buffer.Ident, f *buffer.Frame, h segHeader, payload []byte, app event.App) bool {
	s.SndWnd = h.Window

	if h.Flags&FlagRST != 0 {
		if app != nil {
			app(s, event.ABORT)
		}
		return abort(t, s, id, f, true)
	}

	switch s.State {
	case SynSent:
		return handleSynSent(s, id, f, h, app)
	case SynRcvd:
		sent := handleSynRcvd(s, id, f, h, app)
		if s.State != Established || len(payload) == 0 {
			return sent
		}
		// data carried on the handshake-completing ACK is processed like
		// any other in-order segment on the now-established connection.
		return handleOpenConn(t, s, id, f, h, payload, app)
	default:
		return handleOpenConn(t, s, id, f, h, payload, app)
	}
}

// handleSynSent processes segments for an active-open connection awaiting
// SYN|ACK (spec.md §4.4 "SYN_SENT -> ESTABLISHED").
func handleSynSent(s *Slot, id buffer.Ident, f *buffer.Frame, h segHeader, app event.App) bool {
	if h.Flags&FlagACK == 0 || h.Ack != s.SndNxt {
		return false // not our SYN's ack, ignore (simultaneous-open unsupported)
	}
	if h.Flags&FlagSYN == 0 {
		return false
	}
	s.RcvNxt = h.Seq.Add(1)
	s.SndUna = h.Ack
	s.InFlight = 0
	s.NRTX = 0
	s.RTO = DefaultRTO
	s.State = Established

	if app != nil {
		app(s, event.CONNECTED)
	}
	return emitFromSlot(s, id, f, FlagACK)
}

// handleSynRcvd processes segments for a passive-open connection awaiting
// the final ACK of the three-way handshake (spec.md §4.4 "SYN_RCVD ->
// ESTABLISHED").
func handleSynRcvd(s *Slot, id buffer.Ident, f *buffer.Frame, h segHeader, app event.App) bool {
	if h.Flags&FlagACK == 0 || h.Ack != s.SndNxt {
		if h.Flags&FlagSYN != 0 {
			// peer retransmitted its SYN before seeing our SYN|ACK: resend it.
			writeSegment(f, id, s.RemoteIP, s.RemotePort, s.LocalPort, s.SndUna, s.RcvNxt, FlagSYN|FlagACK, s.window(), s.MSS, nil)
			return true
		}
		return false
	}
	s.SndUna = h.Ack
	s.InFlight = 0
	s.NRTX = 0
	s.RTO = DefaultRTO
	s.State = Established

	if app != nil {
		app(s, event.CONNECTED)
	}
	return false
}

// updateRTO folds one RTT sample (in ticks) into the slot's smoothed
// estimator and recomputes RTO from it, uip.h's sa/sv fields updated the
// classic Jacobson/Karels way: sa tracks the smoothed RTT and sv its mean
// deviation, both as 3-bit-shifted fixed-point running averages, and RTO is
// their sum clamped to a floor of a few ticks so a string of fast, low-
// jitter acks can't collapse the retransmission timer to zero.
func updateRTO(s *Slot, sample int) {
	if sample < 0 {
		sample = 0
	}
	m := sample - int(s.sa>>3)
	s.sa = uint8(int(s.sa) + m)
	if m < 0 {
		m = -m
	}
	m -= int(s.sv >> 2)
	s.sv = uint8(int(s.sv) + m)
	rto := int(s.sa>>3) + int(s.sv)
	if rto < MinRTO {
		rto = MinRTO
	}
	s.RTO = uint8(rto)
}

// handleOpenConn is the shared ack/data/FIN path for every state past the
// handshake: ESTABLISHED, FIN_WAIT_1, FIN_WAIT_2, CLOSING, TIME_WAIT and
// LAST_ACK (spec.md §4.4, uip_process's single TCP_DATA branch).
func handleOpenConn(t *Table, s *Slot, id buffer.Ident, f *buffer.Frame, h segHeader, payload []byte, app event.App) bool {
	if s.State == TimeWait {
		// any segment refreshes the 2MSL quiet period; nothing else to do.
		s.Timer = TimeWaitTicks
		return false
	}

	// RFC 793 §3.9: an ACK for data this slot never sent is a protocol
	// violation. The usual response is a challenge ACK with the segment
	// otherwise dropped; IgnoreFSMerr tolerates it instead, falling
	// through and simply not treating the ack field as informative.
	if h.Flags&FlagACK != 0 && h.Ack.After(s.SndNxt) {
		if t.OnProtoErr != nil {
			t.OnProtoErr()
		}
		if !t.IgnoreFSMerr {
			return emitFromSlot(s, id, f, FlagACK)
		}
	}

	var flags event.Flags
	acked := false

	if h.Flags&FlagACK != 0 && h.Ack.After(s.SndUna) && !h.Ack.After(s.SndNxt) {
		n := uint32(h.Ack.Sub(s.SndUna))
		s.SndUna = h.Ack
		s.InFlight -= int(n)
		if s.InFlight < 0 {
			s.InFlight = 0
		}
		if s.NRTX == 0 {
			// Karn's algorithm: only sample RTT for a segment that was never
			// retransmitted, since an ack for a retransmitted segment can't
			// be tied to a particular transmission.
			updateRTO(s, int(s.RTO)-s.Timer)
		}
		s.NRTX = 0
		s.Timer = int(s.RTO)
		acked = true
		flags |= event.ACKDATA
	}

	newData := len(payload) > 0 && h.Seq == s.RcvNxt && !s.Stopped && s.State == Established
	// spec.md §4.4 "ESTABLISHED on out-of-order data (seq != rcv-nxt): drop
	// payload, emit duplicate ACK with rcv-nxt" — the payload is discarded
	// either way; this only distinguishes "nothing to reply with" from
	// "must emit a bare ACK naming the byte we're still waiting for".
	outOfOrder := len(payload) > 0 && h.Seq != s.RcvNxt && !s.Stopped && s.State == Established
	if newData {
		s.RcvNxt = s.RcvNxt.Add(uint32(len(payload)))
		s.curData = payload
		flags |= event.NEWDATA
	} else {
		s.curData = nil
	}

	finReceived := h.Flags&FlagFIN != 0 && h.Seq.Add(uint32(len(payload))) == s.RcvNxt
	if finReceived {
		s.RcvNxt = s.RcvNxt.Add(1)
		flags |= event.CLOSE
	}

	if flags != 0 && app != nil {
		app(s, flags)
	}

	return advanceOpenConn(t, s, id, f, acked, newData, finReceived, outOfOrder)
}

// advanceOpenConn applies the state transition implied by what handleOpenConn
// just observed, honors any Send/Close/Abort/Stop/Restart the app requested,
// and emits at most one reply segment.
func advanceOpenConn(t *Table, s *Slot, id buffer.Ident, f *buffer.Frame, acked, newData, finReceived, outOfOrder bool) bool {
	if s.abortRequested {
		return abort(t, s, id, f, false)
	}

	quiescent := s.InFlight == 0 // nothing of ours outstanding

	switch s.State {
	case Established:
		if finReceived {
			s.SndNxt = s.SndNxt.Add(1) // our own FIN
			s.InFlight++
			s.State = LastAck
			s.Timer = int(s.RTO)
			return emitFromSlot(s, id, f, FlagFIN|FlagACK)
		}
		if s.closeRequested && quiescent {
			s.SndNxt = s.SndNxt.Add(1)
			s.InFlight++
			s.State = FinWait1
			s.Timer = int(s.RTO)
			return emitFromSlot(s, id, f, FlagFIN|FlagACK)
		}

	case FinWait1:
		finAcked := acked && quiescent
		switch {
		case finAcked && finReceived:
			s.State = TimeWait
			s.Timer = TimeWaitTicks
			return emitFromSlot(s, id, f, FlagACK)
		case finAcked:
			s.State = FinWait2
		case finReceived:
			s.State = Closing
			return emitFromSlot(s, id, f, FlagACK)
		}

	case FinWait2:
		if finReceived {
			s.State = TimeWait
			s.Timer = TimeWaitTicks
			return emitFromSlot(s, id, f, FlagACK)
		}

	case Closing:
		if acked && quiescent {
			s.State = TimeWait
			s.Timer = TimeWaitTicks
		}

	case LastAck:
		if acked && quiescent {
			*s = Slot{}
			return false
		}
	}

	if s.stopRequested {
		s.Stopped = true
	}
	if s.restartReq {
		s.Stopped = false
	}
	s.stopRequested, s.restartReq = false, false

	if sent := maybeSendPending(s, id, f); sent {
		return true
	}

	if newData {
		// newly accepted data must be acknowledged even when the app has
		// nothing of its own to send, or the peer's sender stalls.
		if s.InFlight > 0 {
			return emitFromSlot(s, id, f, s.sentFlags)
		}
		return emitFromSlot(s, id, f, FlagACK)
	}

	if outOfOrder {
		return emitFromSlot(s, id, f, FlagACK)
	}

	return false
}

// advanceIdle applies a locally-initiated request (Close/Abort/Stop/Restart
// or a queued Send) when no inbound segment arrived this tick — the path
// ProcessTimer and ProcessPoll drive for a connection with nothing to ack.
func advanceIdle(t *Table, s *Slot, id buffer.Ident, f *buffer.Frame) bool {
	if s.abortRequested {
		return abort(t, s, id, f, false)
	}
	if s.stopRequested {
		s.Stopped = true
	}
	if s.restartReq {
		s.Stopped = false
	}
	s.stopRequested, s.restartReq = false, false

	if s.State == Established && s.closeRequested && s.InFlight == 0 {
		s.SndNxt = s.SndNxt.Add(1)
		s.InFlight++
		s.State = FinWait1
		s.Timer = int(s.RTO)
		return emitFromSlot(s, id, f, FlagFIN|FlagACK)
	}

	return maybeSendPending(s, id, f)
}

// maybeSendPending puts the application's queued Send buffer on the wire if
// the connection is established and nothing is currently in flight (spec.md
// §4.4 "Sending": "one segment's worth at a time").
func maybeSendPending(s *Slot, id buffer.Ident, f *buffer.Frame) bool {
	if s.State != Established || !s.pendingSendSet || s.InFlight != 0 {
		return false
	}
	buf := s.pendingSend
	if w := s.sendWindow(); len(buf) > w {
		buf = buf[:w]
	}
	s.pendingSend = buf // persist the clamp so retransmits resend exactly this many bytes
	s.InFlight = len(buf)
	s.NRTX = 0
	s.Timer = int(s.RTO)
	flags := FlagACK
	if len(buf) > 0 {
		flags |= FlagPSH
	}
	written := emitFromSlot(s, id, f, flags)
	s.SndNxt = s.SndNxt.Add(uint32(len(buf)))
	s.pendingSendSet = false
	return written
}

// emitFromSlot builds and writes the slot's current outbound segment. The
// starting sequence number is always SndUna: the oldest unacknowledged byte
// is, by construction, the first byte of whatever is presently in flight
// (freshly queued or a retransmission of the same bytes) — spec.md §4.4 and
// §9's "caches only the pointer+length" retransmission model.
func emitFromSlot(s *Slot, id buffer.Ident, f *buffer.Frame, flags uint8) bool {
	var payload []byte
	if flags&FlagPSH != 0 {
		payload = s.pendingSend
		if w := s.sendWindow(); len(payload) > w {
			payload = payload[:w]
		}
	}
	writeSegment(f, id, s.RemoteIP, s.RemotePort, s.LocalPort, s.SndUna, s.RcvNxt, flags, s.window(), s.MSS, payload)
	s.sentFlags = flags
	return true
}
