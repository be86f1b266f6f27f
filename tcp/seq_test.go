package tcp

import "testing"

// Testable Property 3: sequence comparisons classify (a-b) correctly at
// the 2^32 boundary.
func TestSeqWrapAround(t *testing.T) {
	cases := []struct {
		a, b   Seq
		after  bool
		before bool
	}{
		{1, 0, true, false},
		{0, 1, false, true},
		{0, 0xFFFFFFFF, true, false},        // 0 is "after" the max value (wrapped +1)
		{0xFFFFFFFF, 0, false, true},
		{0x80000000, 0, true, false},
		{0, 0x80000000, false, true},
	}

	for _, c := range cases {
		if got := c.a.After(c.b); got != c.after {
			t.Errorf("(%d).After(%d) = %v, want %v", c.a, c.b, got, c.after)
		}
		if got := c.a.Before(c.b); got != c.before {
			t.Errorf("(%d).Before(%d) = %v, want %v", c.a, c.b, got, c.before)
		}
	}
}

func TestSeqAddWraps(t *testing.T) {
	s := Seq(0xFFFFFFFE)
	if got := s.Add(3); got != Seq(1) {
		t.Fatalf("wrap-around add = %d, want 1", got)
	}
}

func TestGreaterOrEqual(t *testing.T) {
	if !Seq(5).GreaterOrEqual(5) {
		t.Fatal("5 >= 5 should hold")
	}
	if !Seq(6).GreaterOrEqual(5) {
		t.Fatal("6 >= 5 should hold")
	}
	if Seq(4).GreaterOrEqual(5) {
		t.Fatal("4 >= 5 should not hold")
	}
}
