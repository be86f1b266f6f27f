// Package event defines the single application callback surface (spec.md
// §6): the event Kind passed to Stack.Process, the per-invocation Flags
// word, and the Conn interface the TCP and UDP connection slots implement
// so one App function type serves both protocols.
package event

// Kind is the event_kind argument to process() in spec.md §4.1.
type Kind int

const (
	// DATA means an inbound frame is waiting in the shared buffer.
	DATA Kind = iota
	// TIMER advances the "current connection"'s retransmission timer.
	TIMER
	// TCPPoll gives the current connection's app a chance to send with no
	// pending input.
	TCPPoll
	// UDPTimer re-invokes a UDP slot's app with POLL, letting it decide
	// whether to emit on its own schedule.
	UDPTimer
	// UDPSend asks a UDP slot's app to produce an outbound datagram now.
	UDPSend
)

// Flags is the byte-wide, non-exclusive flag word spec.md §6 defines.
type Flags uint8

const (
	ACKDATA   Flags = 0x01
	NEWDATA   Flags = 0x02
	REXMIT    Flags = 0x04
	POLL      Flags = 0x08
	CLOSE     Flags = 0x10
	ABORT     Flags = 0x20
	CONNECTED Flags = 0x40
	TIMEDOUT  Flags = 0x80
)

// Has reports whether f has all of want set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{ACKDATA, "ACKDATA"}, {NEWDATA, "NEWDATA"}, {REXMIT, "REXMIT"}, {POLL, "POLL"},
		{CLOSE, "CLOSE"}, {ABORT, "ABORT"}, {CONNECTED, "CONNECTED"}, {TIMEDOUT, "TIMEDOUT"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// Conn is the per-connection surface the application callback operates on.
// TCP and UDP slots both implement it, so a single App function serves
// spec.md's single app_callback() entry point for both protocols.
type Conn interface {
	// Data returns the inbound application payload, valid only while
	// NEWDATA or REXMIT-adjacent processing is in progress.
	Data() []byte

	// Send arms buf as the segment/datagram to emit once the callback
	// returns. Only the last call within one invocation is honored
	// (spec.md §4.4 "Sending").
	Send(buf []byte)

	// Close requests a graceful teardown (TCP: begins the FIN sequence;
	// UDP: a no-op, since UDP slots have no teardown handshake).
	Close()

	// Abort requests an immediate non-graceful teardown (TCP: emits RST
	// and frees the slot; UDP: a no-op).
	Abort()

	// Stop suppresses further payload acceptance (receiver-window-closed,
	// spec.md §3 "stopped" flag). UDP: a no-op.
	Stop()

	// Restart reverses Stop. UDP: a no-op.
	Restart()
}

// App is the single application entry point spec.md §6 describes.
type App func(c Conn, flags Flags)
