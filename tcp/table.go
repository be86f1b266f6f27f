package tcp

import "github.com/dreadl0ck/nanostack/buffer"

// Table is the fixed array of TCP connection slots plus the listening-port
// table (spec.md §3: N_TCP slots, N_LISTEN listen entries).
type Table struct {
	slots    []Slot
	listens  []uint16 // 0 == unused entry
	isnClock uint32

	// IgnoreFSMerr, when true, tolerates a segment that acks data this
	// table never sent instead of treating it as a protocol violation
	// (matching the teacher's c.IgnoreFSMerr tolerance knob, SPEC_FULL's
	// ambient config section). Zero value is false: RFC 793 §3.9's
	// challenge-ack-and-drop behavior applies.
	IgnoreFSMerr bool
	// OnProtoErr, if set, is called once for every segment rejected under
	// the rule above, regardless of IgnoreFSMerr.
	OnProtoErr func()
	// OnAbort, if set, is called with a snapshot of a slot every time it is
	// torn down non-gracefully — RST received, Abort requested, or giving
	// up after MaxRTX/MaxSynRTX retransmissions — for diagnostics (matching
	// the teacher's post-mortem dump on a stuck reassembly, SPEC_FULL's
	// ambient logging section).
	OnAbort func(*Slot)
}

// NewTable allocates a table with nConns connection slots and nListen
// listen-port entries.
func NewTable(nConns, nListen int) *Table {
	return &Table{
		slots:   make([]Slot, nConns),
		listens: make([]uint16, nListen),
	}
}

// nextISN produces a fresh initial sequence number for a new connection, a
// plain incrementing clock rather than the 4-microsecond RFC 793 clock —
// uip_connect/uip_listen generate theirs from the periodic timer tick count
// (see _examples/original_source/uip.c's iss handling) for the same reason:
// this stack has no wall clock, only ticks.
func (t *Table) nextISN() Seq {
	t.isnClock += 300000
	return Seq(t.isnClock)
}

// Slots exposes the underlying array, e.g. for the driver's TIMER sweep
// (spec.md §6: "for each connection index i... process(TIMER)").
func (t *Table) Slots() []Slot { return t.slots }

// SlotAt returns a pointer to slot i for driver iteration.
func (t *Table) SlotAt(i int) *Slot { return &t.slots[i] }

// Len returns the number of connection slots.
func (t *Table) Len() int { return len(t.slots) }

// Listen adds port to the listen table if not already present. Returns
// false if the table is full (mirrors uip_listen's silent no-op on a full
// table, except we surface it so callers can log/count it).
func (t *Table) Listen(port uint16) bool {
	free := -1
	for i, p := range t.listens {
		if p == port {
			return true // already listening, idempotent per SPEC_FULL §4 item 1
		}
		if p == 0 && free == -1 {
			free = i
		}
	}
	if free == -1 {
		return false
	}
	t.listens[free] = port
	return true
}

// Unlisten removes port from the listen table.
func (t *Table) Unlisten(port uint16) {
	for i, p := range t.listens {
		if p == port {
			t.listens[i] = 0
		}
	}
}

// isListening reports whether port has an active listener.
func (t *Table) isListening(port uint16) bool {
	for _, p := range t.listens {
		if p == port {
			return true
		}
	}
	return false
}

// findExact returns the slot uniquely identified by the 4-tuple, or nil.
func (t *Table) findExact(localPort uint16, remoteIP buffer.IP, remotePort uint16) *Slot {
	for i := range t.slots {
		s := &t.slots[i]
		if s.State == Closed {
			continue
		}
		if s.LocalPort == localPort && s.RemoteIP == remoteIP && s.RemotePort == remotePort {
			return s
		}
	}
	return nil
}

// freeSlot returns the first unused slot, or nil if the table is full
// (spec.md §4.4: "If no slot is free, drop and count syndrop").
func (t *Table) freeSlot() *Slot {
	for i := range t.slots {
		if t.slots[i].State == Closed {
			return &t.slots[i]
		}
	}
	return nil
}

// Connect allocates a slot and begins an active open (spec.md §4.4
// "CLOSED -> SYN_SENT"). Returns nil if no slot is free.
func (t *Table) Connect(remoteIP buffer.IP, remotePort, localPort uint16, mss uint16) *Slot {
	s := t.freeSlot()
	if s == nil {
		return nil
	}

	isn := t.nextISN()
	*s = Slot{
		RemoteIP:   remoteIP,
		RemotePort: remotePort,
		LocalPort:  localPort,
		SndNxt:     isn.Add(1), // the SYN consumes sequence number isn
		SndUna:     isn,
		InFlight:   1,
		MSS:        mss,
		InitialMSS: mss,
		RTO:        DefaultRTO,
		State:      SynSent,
		Timer:      DefaultRTO,
		NRTX:       0,
		sentFlags:  FlagSYN,
	}
	return s
}

// OpenSYN writes the initial SYN for a slot just created by Connect onto
// the wire (spec.md §4.4: the active-open side must send its own SYN
// before anything can arrive).
func OpenSYN(s *Slot, id buffer.Ident, f *buffer.Frame) {
	writeSegment(f, id, s.RemoteIP, s.RemotePort, s.LocalPort, s.SndUna, 0, FlagSYN, s.window(), s.MSS, nil)
}
