// Package stack ties every other nanostack package into the single
// process(event_kind) dispatcher spec.md §4.1 and §9 describe: "model as a
// single owning context object". Config, Stats and the StatsWriter here are
// SPEC_FULL §1's ambient engineering stack, named to read like the teacher's
// own config.Config field style (c.Checksum, c.NoDefrag, c.Debug,
// c.IgnoreFSMerr in _examples/Gh0st0ne-netcap/encoder/tcpConnection.go).
package stack

import (
	"fmt"

	"github.com/dreadl0ck/nanostack/buffer"
)

// Config holds everything a Stack needs at construction time: host
// identity, table sizes, and the tuning knobs spec.md leaves to the
// embedder (§6 "External interfaces", §9 design notes).
type Config struct {
	// Host identity (spec.md §3).
	IP      buffer.IP
	Netmask buffer.IP
	Gateway buffer.IP
	MAC     buffer.MAC

	// Table sizes (spec.md §3: N_TCP, N_UDP, N_ARP, N_LISTEN).
	NumTCPConns  int
	NumUDPConns  int
	NumARPConns  int
	NumListeners int

	// BufferSize is the shared frame buffer's fixed capacity B (spec.md
	// §3), large enough for the host's largest expected Ethernet frame.
	BufferSize int

	// Checksum enables UDP output checksums (spec.md §9 Open Question 3);
	// TCP and IP checksums are always computed regardless of this flag.
	Checksum bool

	// NoDefrag disables ipv4.Defragmenter wiring — best-effort IP
	// reassembly remains optional per spec.md §1 Non-goals even when this
	// is false.
	NoDefrag bool

	// Debug gates internal/nslog's Debugf/DumpSlot output.
	Debug bool

	// IgnoreFSMerr, when true, keeps a connection alive across a segment
	// the state machine would otherwise treat as protocol-violating
	// (matching the teacher's c.IgnoreFSMerr tolerance knob); when false
	// (the default) such segments are dropped and counted as protoerr.
	IgnoreFSMerr bool
}

// Default values, mirroring uipopt.h's UIP_CONNS/UIP_UDP_CONNS/UIP_ARPTAB_SIZE
// defaults and writer.go's DefaultBufferSize-style constant naming.
const (
	DefaultNumTCPConns  = 10
	DefaultNumUDPConns  = 10
	DefaultNumARPConns  = 8
	DefaultNumListeners = 8
	DefaultBufferSize   = 1536 // one Ethernet MTU frame
)

// Default returns a Config for host identity id with every table and knob
// at its default size, following writer.go's NewWriter defaulting pattern
// ("if memBufferSize <= 0 { memBufferSize = DefaultBufferSize }").
func Default(id buffer.Ident) Config {
	return Config{
		IP:           id.IP,
		Netmask:      id.Netmask,
		Gateway:      id.Gateway,
		MAC:          id.MAC,
		NumTCPConns:  DefaultNumTCPConns,
		NumUDPConns:  DefaultNumUDPConns,
		NumARPConns:  DefaultNumARPConns,
		NumListeners: DefaultNumListeners,
		BufferSize:   DefaultBufferSize,
	}
}

// Validate reports a configuration error before any table is allocated,
// following the teacher's setup-time error-return convention (CreateFile/
// NewWriter-style constructors fail early rather than panicking mid-run).
func (c Config) Validate() error {
	if c.IP.IsZero() {
		return fmt.Errorf("stack: config: host IP must not be 0.0.0.0")
	}
	if c.NumTCPConns <= 0 {
		return fmt.Errorf("stack: config: NumTCPConns must be positive, got %d", c.NumTCPConns)
	}
	if c.NumUDPConns <= 0 {
		return fmt.Errorf("stack: config: NumUDPConns must be positive, got %d", c.NumUDPConns)
	}
	if c.NumARPConns <= 0 {
		return fmt.Errorf("stack: config: NumARPConns must be positive, got %d", c.NumARPConns)
	}
	if c.NumListeners <= 0 {
		return fmt.Errorf("stack: config: NumListeners must be positive, got %d", c.NumListeners)
	}
	if c.BufferSize < buffer.EthHeaderLen+buffer.IPHeaderLen+buffer.TCPHeaderLen {
		return fmt.Errorf("stack: config: BufferSize %d too small to hold a minimal TCP/IP frame", c.BufferSize)
	}
	return nil
}

// ident returns the host identity this Config describes, for passing to the
// arp/ipv4/tcp/udp packages that take a buffer.Ident.
func (c Config) ident() buffer.Ident {
	return buffer.Ident{IP: c.IP, Netmask: c.Netmask, Gateway: c.Gateway, MAC: c.MAC}
}
