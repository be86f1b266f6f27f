// Package tcp implements the TCP connection slot table and state machine:
// spec.md §3 ("TCP connection slot"), §4.4, and C7 — the largest component
// in the system (~45% of spec.md's budget). Field names and the
// RTO/backoff bookkeeping are grounded on uip.h's struct uip_conn (see
// _examples/original_source/uip.h) generalized from uIP's C union/macro
// style into a plain Go struct with an explicit App field.
package tcp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/event"
)

// Slot is one fixed TCP connection slot (spec.md §3). If State != Closed,
// (LocalPort, RemoteIP, RemotePort) uniquely identifies it among active
// slots (spec.md invariant).
type Slot struct {
	RemoteIP   buffer.IP
	RemotePort uint16
	LocalPort  uint16

	RcvNxt Seq // next expected inbound byte
	SndNxt Seq // next outbound byte
	SndUna Seq // oldest unacknowledged byte (snd_nxt - InFlight)

	InFlight int // bytes sent, not yet acknowledged; <= MSS always

	MSS        uint16
	InitialMSS uint16
	SndWnd     uint16 // peer's last-advertised receive window (spec.md §4.4 "clamps length to min(MSS, advertised window)")

	sa, sv uint8 // smoothed RTT estimator state (uip.h's sa/sv); see updateRTO
	RTO    uint8 // current retransmission timeout, in ticks; derived from sa/sv

	State   State
	Stopped bool // receiver-window-closed

	Timer int   // retransmission countdown, ticks remaining
	NRTX  uint8 // retransmission attempt counter for the in-flight segment

	sentFlags uint8 // control bits of the currently in-flight segment, for retransmission

	App any // opaque application payload; the stack never interprets it

	// sendPtr/sendLen alias application-owned memory for possible
	// retransmission (spec.md §9: "caches only the pointer+length... not a
	// copy"). sendGen records the generator armed by SendGenerated; it is
	// called only once, when armed, and a retransmission resends the bytes
	// that call returned rather than calling it again.
	sendPtr []byte
	sendGen func() []byte

	curData []byte // inbound payload visible to the app this invocation

	pendingSend    []byte
	pendingSendSet bool
	closeRequested bool
	abortRequested bool
	stopRequested  bool
	restartReq     bool

	listenOwnedBy *Table
}

// Free reports whether the slot is unused.
func (s *Slot) Free() bool { return s.State == Closed }

// Data implements event.Conn.
func (s *Slot) Data() []byte { return s.curData }

// Send implements event.Conn. Only the last Send call in a single callback
// invocation is honored (spec.md §4.4 "Sending").
func (s *Slot) Send(buf []byte) {
	s.pendingSend = buf
	s.pendingSendSet = true
}

// SendGenerated arms the output of a generator function instead of a fixed
// buffer. fn is invoked once, now; a retransmission resends the slice it
// returned and does not invoke fn again, so that slice must stay unchanged
// until it is acknowledged.
func (s *Slot) SendGenerated(fn func() []byte) {
	s.sendGen = fn
	s.pendingSend = fn()
	s.pendingSendSet = true
}

// Close implements event.Conn.
func (s *Slot) Close() { s.closeRequested = true }

// Abort implements event.Conn.
func (s *Slot) Abort() { s.abortRequested = true }

// Stop implements event.Conn.
func (s *Slot) Stop() { s.stopRequested = true }

// Restart implements event.Conn.
func (s *Slot) Restart() { s.restartReq = true }

var _ event.Conn = (*Slot)(nil)

// window returns the advertised receive window: MSS, or zero while Stopped
// (spec.md §4.4 "Receive window"). No receive-buffer occupancy is tracked,
// so the window never shrinks below MSS otherwise.
func (s *Slot) window() uint16 {
	if s.Stopped {
		return 0
	}
	return s.MSS
}

// sendWindow returns the largest send this slot may put on the wire right
// now: min(MSS, the peer's last-advertised receive window) (spec.md §4.4).
func (s *Slot) sendWindow() int {
	n := int(s.MSS)
	if int(s.SndWnd) < n {
		n = int(s.SndWnd)
	}
	return n
}
