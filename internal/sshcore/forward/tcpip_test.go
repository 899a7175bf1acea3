package forward

import (
	"net"
	"testing"
	"time"
)

func TestPackParseDirectTCPIPRoundTrip(t *testing.T) {
	want := DirectTCPIP{
		DestHost: "db.internal",
		DestPort: 5432,
		OrigHost: "127.0.0.1",
		OrigPort: 54321,
	}
	got, err := ParseDirectTCPIP(PackDirectTCPIP(want))
	if err != nil {
		t.Fatalf("ParseDirectTCPIP: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseDirectTCPIPRejectsTruncatedPayload(t *testing.T) {
	full := PackDirectTCPIP(DirectTCPIP{DestHost: "example.com", DestPort: 80})
	if _, err := ParseDirectTCPIP(full[:len(full)-2]); err == nil {
		t.Fatal("expected an error decoding a truncated payload")
	}
}

func TestPackParseForwardedTCPIPRoundTrip(t *testing.T) {
	want := ForwardedTCPIP{
		BoundHost: "0.0.0.0",
		BoundPort: 42001,
		OrigHost:  "203.0.113.9",
		OrigPort:  443,
	}
	got, err := ParseForwardedTCPIP(PackForwardedTCPIP(want))
	if err != nil {
		t.Fatalf("ParseForwardedTCPIP: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPipeConnRelaysBothDirectionsThenCloses(t *testing.T) {
	local, remote := net.Pipe()

	done := make(chan struct{})
	go func() {
		PipeConn(local, remote)
		close(done)
	}()

	// Writing into remote (the ChannelConn side) should be readable from
	// local (the net.Conn side), and vice versa.
	go func() {
		remote.Write([]byte("from channel"))
	}()
	buf := make([]byte, 32)
	local.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := local.Read(buf)
	if err != nil {
		t.Fatalf("read on local side: %v", err)
	}
	if string(buf[:n]) != "from channel" {
		t.Errorf("local got %q", buf[:n])
	}

	go func() {
		local.Write([]byte("from local"))
	}()
	buf2 := make([]byte, 32)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	n2, err := remote.Read(buf2)
	if err != nil {
		t.Fatalf("read on channel side: %v", err)
	}
	if string(buf2[:n2]) != "from local" {
		t.Errorf("channel side got %q", buf2[:n2])
	}

	local.Close()
	<-done
}
