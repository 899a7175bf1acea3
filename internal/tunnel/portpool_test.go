package tunnel

import (
	"fmt"
	"net"
	"testing"
)

// testStart and testEnd bound the port range used across pool tests.
// Chosen to be above 49152 (ephemeral) and unlikely to conflict on CI.
const (
	testStart = 59100
	testEnd   = 59199
)

func newTestPool() *Pool {
	return NewPool(testStart, testEnd)
}

func TestPool_Acquire_AutoAssignsWithinRange(t *testing.T) {
	p := newTestPool()
	ln, conflict, err := p.Acquire(Forward{Name: "L:db", DestHost: "db", DestPort: 5432})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln.Close()

	if conflict != nil {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if port < testStart || port > testEnd {
		t.Errorf("allocated port %d outside range [%d,%d]", port, testStart, testEnd)
	}
}

func TestPool_Acquire_HonorsRequestedPort(t *testing.T) {
	p := newTestPool()
	ln, conflict, err := p.Acquire(Forward{Name: "L:fixed", LocalPort: testStart + 10})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln.Close()

	if conflict != nil {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	if got := ln.Addr().(*net.TCPAddr).Port; got != testStart+10 {
		t.Errorf("port = %d, want %d", got, testStart+10)
	}
}

func TestPool_Acquire_ConflictWhenRequestedPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", testStart+20))
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer busy.Close()

	p := newTestPool()
	ln, conflict, err := p.Acquire(Forward{Name: "L:clash", LocalPort: testStart + 20})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln.Close()

	if conflict == nil {
		t.Fatal("expected a conflict for the already-bound port")
	}
	if conflict.Requested != testStart+20 {
		t.Errorf("Requested = %d, want %d", conflict.Requested, testStart+20)
	}
	if conflict.Assigned == conflict.Requested {
		t.Error("Assigned must differ from Requested")
	}
}

func TestPool_Acquire_NoDuplicatePortsAcrossForwards(t *testing.T) {
	p := newTestPool()
	ln1, _, err := p.Acquire(Forward{Name: "L:one"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln1.Close()

	ln2, _, err := p.Acquire(Forward{Name: "L:two"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln2.Close()

	p1 := ln1.Addr().(*net.TCPAddr).Port
	p2 := ln2.Addr().(*net.TCPAddr).Port
	if p1 == p2 {
		t.Errorf("two forwards received the same port %d", p1)
	}
}

func TestPool_Release_FreesBookkeeping(t *testing.T) {
	p := newTestPool()
	ln, _, err := p.Acquire(Forward{Name: "L:temp"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ln.Close()
	p.Release("L:temp")

	if _, ok := p.Active()["L:temp"]; ok {
		t.Error("forward still tracked as active after Release")
	}
}

func TestPool_Release_Noop(t *testing.T) {
	p := newTestPool()
	p.Release("nobody") // must not panic
}

func TestPool_Active_ReflectsRegisteredForwards(t *testing.T) {
	p := newTestPool()
	ln, _, err := p.Acquire(Forward{Name: "L:track", DestHost: "example.com", DestPort: 80})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ln.Close()

	active := p.Active()
	fwd, ok := active["L:track"]
	if !ok {
		t.Fatal("expected L:track to be active")
	}
	if fwd.DestHost != "example.com" || fwd.DestPort != 80 {
		t.Errorf("active forward fields mismatch: %+v", fwd)
	}
}
