// Package psock implements the protosocket layer: a sequential-looking view
// over one TCP connection slot built as an explicit suspension-point state
// machine instead of a parked goroutine — a goroutine is a stackful
// coroutine in all but name, a poor fit for a resource-constrained target.
// uIP's own protosockets
// (PSOCK_SEND/PSOCK_READTO in the original) are protothreads — a single
// stack frame checkpointed by hand with a switch on a saved line number (see
// _examples/original_source/psock.h). Go has no protothread macro, so
// instead of growing a goroutine stack to stand in for that saved frame,
// Socket keeps the checkpoint as data: a tagged Step naming the operation in
// progress plus the cursor/length fields it needs to resume (bytes.Buffer,
// a delimiter, a byte count) — the same information psock.h's struct
// pt/bufsize/bufptr carries, just laid out as Go fields instead of a
// compiler-generated switch.
package psock

import (
	"bytes"

	"github.com/dreadl0ck/nanostack/event"
)

// StepKind tags the single operation a Socket is either about to start or
// is already suspended on, the Go analogue of a protothread's saved program
// counter.
type StepKind int

const (
	// StepDone means the body has nothing in flight; Next is consulted to
	// pick whatever comes next.
	StepDone StepKind = iota
	// StepSend blocks until Buf has been fully acknowledged.
	StepSend
	// StepReadUntil blocks until Delim appears in the inbound stream, or
	// until the read buffer fills first.
	StepReadUntil
	// StepReadUntilFull blocks until exactly N bytes have accumulated.
	StepReadUntilFull
	// StepClose requests a graceful shutdown and ends the body immediately.
	StepClose
	// StepAbort requests a non-graceful teardown and ends the body
	// immediately.
	StepAbort
)

// Step is one suspension point: an operation tag plus whatever argument it
// needs.
type Step struct {
	Kind  StepKind
	Buf   []byte // StepSend
	Delim byte   // StepReadUntil
	N     int    // StepReadUntilFull
}

// Next picks the next Step. It is called once at the start and again every
// time the previous Step has finished; last carries that Step's result
// (the line or fixed-size chunk just read, nil for everything else). Next
// must return without blocking — callers encode "what comes after what" as
// an explicit saved state of their own (an enum field, typically), exactly
// as a protothread body encodes it as a saved line number.
type Next func(s *Socket, last []byte) Step

// Socket is a sequential-looking, blocking-style view over one TCP
// connection slot, driven synchronously by Resume with no goroutine of its
// own: every field below is the entirety of what must be remembered between
// events, the Go equivalent of a protothread's checkpoint.
type Socket struct {
	conn  event.Conn
	next  Next
	buf   bytes.Buffer
	bufSz int

	step      Step
	stepFresh bool
	lastRead  []byte

	done       bool
	closedByFn bool
	aborted    bool
	bufFull    bool
}

// NewSocket builds a protosocket over a read buffer of bufSize bytes
// (psock_init's bufsize), driven by next.
func NewSocket(bufSize int, next Next) *Socket {
	return &Socket{bufSz: bufSize, next: next}
}

// Resume drives the protosocket forward with one event's flags: it
// advances through as many steps as can complete without further input,
// then returns once the current step needs another event or the body has
// ended. It has the signature of event.App, so a *Socket can be used
// directly wherever a single per-connection callback is expected.
func (s *Socket) Resume(c event.Conn, flags event.Flags) {
	if s.done {
		return
	}
	s.conn = c

	for !s.done {
		if s.step.Kind == StepDone {
			st := s.next(s, s.lastRead)
			s.lastRead = nil
			switch st.Kind {
			case StepDone:
				s.done = true
			case StepClose:
				s.done = true
				s.closedByFn = true
				c.Close()
				return
			case StepAbort:
				s.done = true
				s.closedByFn = true
				s.aborted = true
				c.Abort()
				return
			default:
				s.step = st
				s.stepFresh = true
			}
			continue
		}

		if !s.tick(flags) {
			return // parked on this step, waiting for the next event
		}
		s.step = Step{Kind: StepDone}
	}

	if !s.closedByFn {
		s.closedByFn = true
		if s.aborted {
			c.Abort()
		} else {
			c.Close()
		}
	}
}

// tick makes one non-blocking attempt at the current step. It returns true
// once the step has a result to report — finished, or aborted/timed out —
// and false if Resume should park here until the next event. The first
// tick after a step is armed never consults flags for abort/timeout (a
// protothread's body doesn't see PT_WAIT's wake reason on the statement
// that issued the wait, only on ones after it); every later tick for the
// same step does.
func (s *Socket) tick(flags event.Flags) bool {
	fresh := s.stepFresh
	s.stepFresh = false

	if !fresh && (flags.Has(event.ABORT) || flags.Has(event.TIMEDOUT)) {
		s.aborted = true
		return true
	}

	switch s.step.Kind {
	case StepSend:
		if fresh {
			s.conn.Send(s.step.Buf)
			return false
		}
		return flags.Has(event.ACKDATA)

	case StepReadUntil:
		if chunk := s.conn.Data(); len(chunk) > 0 {
			s.buf.Write(chunk)
		}
		if b := s.buf.Bytes(); len(b) > 0 {
			if i := bytes.IndexByte(b, s.step.Delim); i >= 0 {
				line := append([]byte(nil), b[:i+1]...)
				rest := append([]byte(nil), b[i+1:]...)
				s.buf.Reset()
				s.buf.Write(rest)
				s.lastRead = line
				return true
			}
		}
		if s.buf.Len() >= s.bufSz {
			s.bufFull = true
			return true
		}
		return false

	case StepReadUntilFull:
		if chunk := s.conn.Data(); len(chunk) > 0 {
			s.buf.Write(chunk)
		}
		if s.buf.Len() >= s.step.N {
			b := s.buf.Bytes()
			out := append([]byte(nil), b[:s.step.N]...)
			rest := append([]byte(nil), b[s.step.N:]...)
			s.buf.Reset()
			s.buf.Write(rest)
			s.lastRead = out
			return true
		}
		return false
	}

	return true
}

// BufFull reports whether the last StepReadUntil gave up because the input
// buffer filled before the delimiter arrived.
func (s *Socket) BufFull() bool { return s.bufFull }

// Aborted reports whether the connection was reset or timed out under a
// pending Send/StepReadUntil/StepReadUntilFull. Next should check this and
// steer toward StepDone or StepAbort rather than continue as if nothing
// happened.
func (s *Socket) Aborted() bool { return s.aborted }
