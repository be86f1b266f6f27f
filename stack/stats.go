package stack

import (
	"os"
	"strconv"
	"sync"

	"github.com/evilsocket/islazy/tui"
)

// Stats accumulates the counters spec.md §7 implies ("the stack never
// raises... increments a counter instead") across the lifetime of a Stack.
// The struct-plus-mutex-plus-accessor shape is the teacher's own
// reassemblyStats (_examples/Gh0st0ne-netcap/encoder/tcpConnection.go): a
// package-level struct of plain counters behind one mutex, with small
// accessor methods rather than exported fields read directly.
type Stats struct {
	mu sync.Mutex

	// IP (spec.md §4.1 steps 1-4 drop reasons). A bad IP header checksum
	// is folded into ipDropMalformed rather than tracked separately —
	// ipv4.Input reports both as the same DropMalformed verdict.
	ipDropMalformed int64
	ipDropForeign   int64

	// ARP.
	arpHits    int64
	arpMisses  int64
	arpInvalid int64

	// ICMP.
	icmpEchoReplied int64
	icmpDropped     int64

	// UDP.
	udpDelivered int64
	udpDropped   int64

	// TCP. A bad segment checksum is silently dropped by tcp.Input like any
	// other malformed segment (spec.md §7) and has no counter of its own.
	tcpSynDrop   int64 // spec.md §4.4 "If no slot is free, drop and count syndrop"
	tcpProtoErr  int64 // segment rejected by the FSM as protocol-violating
	tcpReset     int64 // RST sent for a stray segment
	tcpAcks      int64
	tcpRexmits   int64
	tcpTimedOut  int64
	tcpConnected int64
	tcpClosed    int64
}

func (s *Stats) incIPDropMalformed() { s.mu.Lock(); s.ipDropMalformed++; s.mu.Unlock() }
func (s *Stats) incIPDropForeign()   { s.mu.Lock(); s.ipDropForeign++; s.mu.Unlock() }

func (s *Stats) incARPHit()     { s.mu.Lock(); s.arpHits++; s.mu.Unlock() }
func (s *Stats) incARPMiss()    { s.mu.Lock(); s.arpMisses++; s.mu.Unlock() }
func (s *Stats) incARPInvalid() { s.mu.Lock(); s.arpInvalid++; s.mu.Unlock() }

func (s *Stats) incICMPEchoReplied() { s.mu.Lock(); s.icmpEchoReplied++; s.mu.Unlock() }
func (s *Stats) incICMPDropped()     { s.mu.Lock(); s.icmpDropped++; s.mu.Unlock() }

func (s *Stats) incUDPDelivered() { s.mu.Lock(); s.udpDelivered++; s.mu.Unlock() }
func (s *Stats) incUDPDropped()   { s.mu.Lock(); s.udpDropped++; s.mu.Unlock() }

func (s *Stats) incTCPSynDrop()   { s.mu.Lock(); s.tcpSynDrop++; s.mu.Unlock() }
func (s *Stats) incTCPProtoErr()  { s.mu.Lock(); s.tcpProtoErr++; s.mu.Unlock() }
func (s *Stats) incTCPReset()     { s.mu.Lock(); s.tcpReset++; s.mu.Unlock() }
func (s *Stats) incTCPConnected() { s.mu.Lock(); s.tcpConnected++; s.mu.Unlock() }
func (s *Stats) incTCPClosed()    { s.mu.Lock(); s.tcpClosed++; s.mu.Unlock() }
func (s *Stats) incTCPAcks()      { s.mu.Lock(); s.tcpAcks++; s.mu.Unlock() }
func (s *Stats) incTCPRexmit()    { s.mu.Lock(); s.tcpRexmits++; s.mu.Unlock() }
func (s *Stats) incTCPTimedOut()  { s.mu.Lock(); s.tcpTimedOut++; s.mu.Unlock() }

// TCPConnected returns the number of connections that completed their
// handshake, mirroring the teacher's NumSavedTCPConns accessor style.
func (s *Stats) TCPConnected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpConnected
}

// snapshot copies every counter out under the lock, for Print and the CSV
// writer to format without holding it.
func (s *Stats) snapshot() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return [][2]string{
		{"ip dropped malformed", strconv.FormatInt(s.ipDropMalformed, 10)},
		{"ip dropped foreign", strconv.FormatInt(s.ipDropForeign, 10)},
		{"arp hits", strconv.FormatInt(s.arpHits, 10)},
		{"arp misses", strconv.FormatInt(s.arpMisses, 10)},
		{"arp invalid", strconv.FormatInt(s.arpInvalid, 10)},
		{"icmp echo replied", strconv.FormatInt(s.icmpEchoReplied, 10)},
		{"icmp dropped", strconv.FormatInt(s.icmpDropped, 10)},
		{"udp delivered", strconv.FormatInt(s.udpDelivered, 10)},
		{"udp dropped", strconv.FormatInt(s.udpDropped, 10)},
		{"tcp syn dropped (table full)", strconv.FormatInt(s.tcpSynDrop, 10)},
		{"tcp protocol errors", strconv.FormatInt(s.tcpProtoErr, 10)},
		{"tcp reset sent", strconv.FormatInt(s.tcpReset, 10)},
		{"tcp connected", strconv.FormatInt(s.tcpConnected, 10)},
		{"tcp closed", strconv.FormatInt(s.tcpClosed, 10)},
		{"tcp acks", strconv.FormatInt(s.tcpAcks, 10)},
		{"tcp retransmits", strconv.FormatInt(s.tcpRexmits, 10)},
		{"tcp timed out", strconv.FormatInt(s.tcpTimedOut, 10)},
	}
}

// Print renders the current counters as a tui.Table, exactly the role
// CleanupReassembly's "TCP Stat" table plays for reassemblyStats.
func (s *Stats) Print() {
	rows := s.snapshot()
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r[0], r[1]}
	}
	tui.Table(os.Stdout, []string{"Description", "Value"}, out)
}
