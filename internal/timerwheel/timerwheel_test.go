package timerwheel

import "testing"

func TestScheduleAndRunDue(t *testing.T) {
	var fired []string
	w := New(nil)

	w.Schedule(0, 10, func(ctx any) { fired = append(fired, ctx.(string)) }, "a")
	w.Schedule(0, 5, func(ctx any) { fired = append(fired, ctx.(string)) }, "b")
	w.Schedule(0, 15, func(ctx any) { fired = append(fired, ctx.(string)) }, "c")

	next, ok := w.RunDue(7)
	if !ok {
		t.Fatalf("expected pending timers")
	}
	if len(fired) != 1 || fired[0] != "b" {
		t.Fatalf("fired = %v, want [b]", fired)
	}
	if next != 10 {
		t.Fatalf("next = %d, want 10", next)
	}

	next, ok = w.RunDue(12)
	if !ok {
		t.Fatalf("expected a pending timer (c)")
	}
	if len(fired) != 2 || fired[1] != "a" {
		t.Fatalf("fired = %v, want [b a]", fired)
	}
	if next != 15 {
		t.Fatalf("next = %d, want 15", next)
	}

	_, ok = w.RunDue(15)
	if ok {
		t.Fatalf("expected no timers left")
	}
	if len(fired) != 3 || fired[2] != "c" {
		t.Fatalf("fired = %v, want [b a c]", fired)
	}
}

func TestDuplicateCollapse(t *testing.T) {
	w := New(nil)
	cb := func(ctx any) {}
	w.Schedule(0, 10, cb, "ctx")
	w.Schedule(0, 10, cb, "ctx")
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (duplicates should collapse)", w.Len())
	}
}

func TestExpireContext(t *testing.T) {
	w := New(nil)
	w.Schedule(0, 10, func(any) {}, "keep")
	w.Schedule(0, 20, func(any) {}, "drop")
	w.Schedule(0, 30, func(any) {}, "drop")

	w.ExpireContext("drop")
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after ExpireContext", w.Len())
	}
	next, ok := w.RunDue(100)
	if ok {
		t.Fatalf("expected no timers left, next=%d", next)
	}
}

func TestBeforeWraparound(t *testing.T) {
	var max32 Tick = 0xFFFFFFFF
	if !Before(max32, max32+2) {
		t.Fatalf("Before should tolerate wraparound")
	}
	if Before(max32+2, max32) {
		t.Fatalf("Before should be antisymmetric across wraparound")
	}
}

func TestRunDueNotifiesOnEmptyWheel(t *testing.T) {
	var notified []Tick
	w := New(func(next Tick) { notified = append(notified, next) })
	w.Schedule(0, 10, func(any) {}, "a")
	if len(notified) != 1 || notified[0] != 10 {
		t.Fatalf("notified = %v, want [10] after scheduling the first entry", notified)
	}
	w.RunDue(10)
	if len(notified) != 2 || notified[1] != 0 {
		t.Fatalf("notified = %v, want a trailing 0 once the wheel drains", notified)
	}
}
