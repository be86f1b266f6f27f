// Package nslog is nanostack's internal debug/error logger, gated on a
// Debug flag exactly as the teacher gates its own reassembly logging on
// c.Debug (see _examples/Gh0st0ne-netcap/encoder/tcpConnection.go). Send
// and receive directions are colored with github.com/mgutz/ansi the same
// way the teacher colors a conversation's two directions red/blue, and a
// connection slot's full state is dumped with github.com/davecgh/go-spew
// on the same kind of stuck/aborted-connection diagnostic the teacher
// reaches for spew.Dump on an AssembleWithContext timeout.
package nslog

import (
	"fmt"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/mgutz/ansi"
)

// Logger wraps a standard *log.Logger with a Debug gate, mirroring the
// teacher's utils.ReassemblyLog usage pattern (Println/Printf calls guarded
// by "if c.Debug").
type Logger struct {
	out   *log.Logger
	debug bool
}

// New builds a Logger writing to stderr. debug controls whether Debugf and
// DumpSlot emit anything; error-level logging always runs.
func New(debug bool) *Logger {
	return &Logger{out: log.New(os.Stderr, "", log.LstdFlags), debug: debug}
}

// Debugf logs a debug-level line if debug is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	l.out.Printf(format, args...)
}

// Errorf always logs, regardless of the Debug flag — spec.md §7's "the
// stack never raises" means these are observational, not fatal.
func (l *Logger) Errorf(format string, args ...any) {
	l.out.Printf("ERROR: "+format, args...)
}

// Sent logs an outbound segment/datagram in the teacher's red-for-one-
// direction convention (ConversationColored uses ansi.Red for client->server).
func (l *Logger) Sent(ident string, n int) {
	l.Debugf("%s%s: sent %d bytes%s", ansi.Red, ident, n, ansi.Reset)
}

// Received logs an inbound segment/datagram in the complementary blue.
func (l *Logger) Received(ident string, n int) {
	l.Debugf("%s%s: received %d bytes%s", ansi.Blue, ident, n, ansi.Reset)
}

// DumpSlot spew-dumps an arbitrary connection slot's full state, for the
// same kind of post-mortem the teacher produces with spew.Dump on a stuck
// reassembly (TIMEDOUT/ABORT transitions here, rather than a stalled
// assembler).
func (l *Logger) DumpSlot(reason string, slot any) {
	if !l.debug {
		return
	}
	l.out.Println(reason)
	spew.Fdump(os.Stderr, slot)
}

// String renders v with spew's default formatter, for one-off debug lines
// that don't warrant a full Fdump.
func String(v any) string {
	return fmt.Sprintf("%s", spew.Sdump(v))
}
