package tcp

import (
	"github.com/dreadl0ck/nanostack/buffer"
	"github.com/dreadl0ck/nanostack/event"
)

// ProcessTimer advances slot i's retransmission clock by one periodic tick
// (spec.md §4.4 "Timers" and C8's "every T milliseconds" driver). It
// retransmits the in-flight segment with exponential backoff, gives up after
// MaxRTX (or MaxSynRTX during the handshake), and otherwise offers an idle
// connection a POLL so the app can start a new send.
func (t *Table) ProcessTimer(i int, id buffer.Ident, f *buffer.Frame, app event.App) bool {
	s := &t.slots[i]

	switch s.State {
	case Closed:
		return false
	case TimeWait:
		if s.Timer > 0 {
			s.Timer--
		}
		if s.Timer <= 0 {
			*s = Slot{}
		}
		return false
	}

	if s.InFlight == 0 {
		if app != nil {
			app(s, event.POLL)
		}
		return advanceIdle(t, s, id, f)
	}

	if s.Timer > 0 {
		s.Timer--
		return false
	}

	maxRTX := MaxRTX
	if s.State == SynSent || s.State == SynRcvd {
		maxRTX = MaxSynRTX
	}
	if int(s.NRTX) >= maxRTX {
		if app != nil {
			app(s, event.TIMEDOUT)
		}
		return abort(t, s, id, f, true)
	}

	s.NRTX++
	shift := s.NRTX
	if shift > MaxBackoffShift {
		shift = MaxBackoffShift
	}
	s.RTO = DefaultRTO << shift
	s.Timer = int(s.RTO)

	if app != nil {
		app(s, event.REXMIT)
	}
	return emitFromSlot(s, id, f, s.sentFlags)
}

// ProcessPoll gives an idle, established connection's app an unscheduled
// chance to send (spec.md §4.1's POLL event kind), independent of the
// periodic timer sweep.
func (t *Table) ProcessPoll(i int, id buffer.Ident, f *buffer.Frame, app event.App) bool {
	s := &t.slots[i]
	if s.State != Established || s.InFlight != 0 {
		return false
	}
	if app != nil {
		app(s, event.POLL)
	}
	return advanceIdle(t, s, id, f)
}
