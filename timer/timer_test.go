package timer

import "testing"

func TestSetAndExpire(t *testing.T) {
	tm := Set(3)
	for i := 0; i < 3; i++ {
		if tm.Expired() {
			t.Fatalf("expired too early at tick %d", i)
		}
		tm.Tick()
	}
	if !tm.Expired() {
		t.Fatal("expected expired after 3 ticks")
	}
}

func TestTickPastExpiryIsNoOp(t *testing.T) {
	tm := Set(1)
	tm.Tick()
	tm.Tick()
	tm.Tick()
	if tm.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", tm.Remaining())
	}
}

func TestResetAddsAnotherInterval(t *testing.T) {
	tm := Set(2)
	tm.Tick()
	tm.Tick()
	if !tm.Expired() {
		t.Fatal("expected expired before Reset")
	}
	tm.Reset()
	if tm.Remaining() != 2 {
		t.Fatalf("Remaining after Reset = %d, want 2", tm.Remaining())
	}
}

func TestRestartDiscardsDrift(t *testing.T) {
	tm := Set(2)
	tm.Tick()
	tm.Tick()
	tm.Tick()
	tm.Tick() // several ticks past expiry
	tm.Restart()
	if tm.Remaining() != 2 {
		t.Fatalf("Remaining after Restart = %d, want 2", tm.Remaining())
	}
}

func TestRestartWithChangesInterval(t *testing.T) {
	tm := Set(1)
	tm.RestartWith(5)
	if tm.Remaining() != 5 {
		t.Fatalf("Remaining = %d, want 5", tm.Remaining())
	}
	tm.Tick()
	tm.Reset()
	// 5 - 1 tick + one new interval of 5; the old interval would give 5.
	if tm.Remaining() != 9 {
		t.Fatalf("Remaining after Reset with new interval = %d, want 9", tm.Remaining())
	}
}
