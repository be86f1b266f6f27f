package tcp

// Wire-level TCP control bits, RFC 793 byte 13 of the header.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
)

// header offsets, relative to the start of the TCP header.
const (
	offSrcPort  = 0
	offDstPort  = 2
	offSeq      = 4
	offAck      = 8
	offDataOfs  = 12
	offFlags    = 13
	offWindow   = 14
	offChecksum = 16
	offUrgent   = 18
	offOptions  = 20

	optKindMSS = 2
	optLenMSS  = 4
	optKindEnd = 0
	optKindNOP = 1
)

// Tuning constants, carried over from uipopt.h (UIP_RTO, UIP_MAXRTX,
// UIP_MAXSYNRTX, UIP_TIME_WAIT_TIMEOUT), all expressed in periodic-timer
// ticks (spec.md §6: "every T milliseconds, typically 500").
const (
	DefaultRTO        = 3
	MaxRTX            = 8
	MaxSynRTX         = 5
	TimeWaitTicks     = 120
	DefaultMSS        = 536
	MinRTO            = 1
	MaxBackoffShift   = 4 // RTO << min(attempts, 4): exponential backoff cap.
)
