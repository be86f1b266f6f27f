package tcp

// Seq is a 32-bit TCP sequence number. All arithmetic on it wraps modulo
// 2^32; comparisons use signed wrap-around per spec.md §4.4 and §9
// ("define comparisons as (a - b) cast to a signed 32-bit result").
type Seq uint32

// Add returns s advanced by n bytes, wrapping at 2^32.
func (s Seq) Add(n uint32) Seq {
	return Seq(uint32(s) + n)
}

// Sub returns the signed distance (s - other), wrapping correctly across
// the 2^32 boundary — this is the primitive every ordering comparison in
// the TCP state machine is built from (spec.md Testable Property 3).
func (s Seq) Sub(other Seq) int32 {
	return int32(uint32(s) - uint32(other))
}

// After reports whether s is strictly after other in sequence-space order.
func (s Seq) After(other Seq) bool {
	return s.Sub(other) > 0
}

// Before reports whether s is strictly before other.
func (s Seq) Before(other Seq) bool {
	return s.Sub(other) < 0
}

// GreaterOrEqual reports whether s is at or after other.
func (s Seq) GreaterOrEqual(other Seq) bool {
	return s.Sub(other) >= 0
}
