// Package timerwheel schedules rekey and keepalive callbacks on
// a skew-tolerant monotonic tick clock.
//
// The allocation and cancellation shape here is grounded on the teacher's
// internal/terminal session idle-timeout registry (sessionRegistry.Register/
// Touch/Unregister): a context-keyed entry that a single background driver
// fires, with a "done"-style signal for prompt cancellation. Unlike the
// teacher's per-session goroutine-per-timer, every entry here shares the
// single driver loop owned by the session (component G's single-threaded
// cooperative model) — firing is driven by a call to RunDue, not an
// independent timer.Ticker per entry.
package timerwheel

import (
	"reflect"

	"github.com/websoft9/sshcore/internal/container"
)

// Tick is a monotonically increasing 32-bit counter, wrapping tolerated by
// always comparing differences (see Before).
type Tick uint32

// Before reports whether a precedes b, tolerating 32-bit wraparound: the
// comparison is done on the signed difference, exactly as a wheel with a
// bounded horizon requires.
func Before(a, b Tick) bool {
	return int32(a-b) < 0
}

// Callback is invoked when a scheduled entry's deadline arrives.
type Callback func(ctx any)

// entry is ordered first by deadline, then by seq so two timers sharing a
// deadline never collide under Tree234's insert-if-absent contract.
type entry struct {
	deadline Tick
	seq      uint64
	fn       Callback
	ctx      any
}

func entryLess(a, b any) bool {
	ea, eb := a.(*entry), b.(*entry)
	if ea.deadline != eb.deadline {
		return Before(ea.deadline, eb.deadline)
	}
	return ea.seq < eb.seq
}

// Wheel holds the set of pending timers for one session, ordered by
// deadline in a Tree234 so the next-due entry is always the tree's
// minimum. It is owned exclusively by the session's single driver
// goroutine; no internal locking is performed (consistent with the
// single-threaded cooperative model backend.Session uses).
type Wheel struct {
	tree   *container.Tree234
	nextSeq uint64
	notify func(next Tick) // optional: called when the earliest deadline changes
}

// New returns an empty wheel. notify, if non-nil, is called every time the
// earliest pending deadline changes, so the host can reprogram its poll
// timeout.
func New(notify func(next Tick)) *Wheel {
	return &Wheel{tree: container.New(entryLess), notify: notify}
}

// Schedule inserts (deadline, fn, ctx). Duplicate entries (identical fn, ctx
// and deadline) collapse into one.
func (w *Wheel) Schedule(now Tick, delay uint32, fn Callback, ctx any) Tick {
	deadline := now + Tick(delay)

	for i := 0; i < w.tree.Len(); i++ {
		e := w.tree.Index(i).(*entry)
		if e.deadline == deadline && e.ctx == ctx && sameFunc(e.fn, fn) {
			return deadline
		}
	}

	before := w.earliest()
	w.nextSeq++
	w.tree.Add(&entry{deadline: deadline, seq: w.nextSeq, fn: fn, ctx: ctx})
	if after := w.earliest(); w.notify != nil && (before == nil || *after != *before) {
		w.notify(*after)
	}
	return deadline
}

// sameFunc compares two Callback values for identity. Go forbids comparing
// func values directly except to nil, so reflect is used here; this only
// runs on the (rare) duplicate-collapse check, where a false negative just
// means a harmless duplicate entry is kept.
func sameFunc(a, b Callback) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func (w *Wheel) earliest() *Tick {
	if w.tree.Len() == 0 {
		return nil
	}
	e := w.tree.Index(0).(*entry)
	return &e.deadline
}

// RunDue fires every entry with deadline-now <= 0, in deadline order, and
// returns the next deadline. ok is false when no timers remain (the "no
// timers" sentinel).
func (w *Wheel) RunDue(now Tick) (next Tick, ok bool) {
	for w.tree.Len() > 0 {
		e := w.tree.Index(0).(*entry)
		if Before(now, e.deadline) {
			break
		}
		w.tree.Del(e)
		e.fn(e.ctx)
	}
	if w.tree.Len() == 0 {
		if w.notify != nil {
			w.notify(0)
		}
		return 0, false
	}
	next = w.tree.Index(0).(*entry).deadline
	return next, true
}

// ExpireContext removes every entry carrying ctx (compared by ==), used to
// cancel all rekey/keepalive timers when a session ends.
func (w *Wheel) ExpireContext(ctx any) {
	var toRemove []*entry
	en := w.tree.EnumFromFirst()
	for v := en.Next(); v != nil; v = en.Next() {
		e := v.(*entry)
		if e.ctx == ctx {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		w.tree.Del(e)
	}
}

// Len reports the number of pending entries.
func (w *Wheel) Len() int { return w.tree.Len() }
