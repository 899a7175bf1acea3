package mux

import (
	"net"
	"testing"
	"time"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

func newTestMux(t *testing.T) (*Mux, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	c := transport.NewClient(a, "example.com", 22, nil, nil)
	c.Framer2 = packet.NewSSH2Framer()
	return New(c), b
}

func readServerPacket(t *testing.T, conn net.Conn) *packet.Packet {
	t.Helper()
	f := packet.NewSSH2Framer()
	pkt, err := f.ReadPacket(conn)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	return pkt
}

func writeServerPacket(t *testing.T, conn net.Conn, msgType byte, payload []byte) {
	t.Helper()
	f := packet.NewSSH2Framer()
	raw, err := f.EncodePacket(append([]byte{msgType}, payload...))
	if err != nil {
		t.Fatalf("server encode: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// TestOpenSessionConfirmAndData exercises the local-open path end to end:
// CHANNEL_OPEN, a CHANNEL_OPEN_CONFIRMATION from the fake server, then a
// CHANNEL_DATA delivery that the Run loop must hand to Channel.Read and
// immediately credit back with WINDOW_ADJUST.
func TestOpenSessionConfirmAndData(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)

		pkt := readServerPacket(t, server)
		if pkt.Type != proto.SSH2MsgChannelOpen {
			t.Errorf("expected channel_open, got %d", pkt.Type)
			return
		}
		r := packet.NewReader(pkt.Payload)
		chanType, _ := r.Str()
		if chanType != "session" {
			t.Errorf("expected session channel type, got %q", chanType)
		}
		localID, _ := r.Uint32()

		confirm := packet.NewRawBuilder().Uint32(localID).Uint32(0).Uint32(SessionInitialWindow).Uint32(SessionMaxPacket).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelOpenConfirm, confirm)

		data := packet.NewRawBuilder().Uint32(0).String([]byte("hello")).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelData, data)

		adjust := readServerPacket(t, server)
		if adjust.Type != proto.SSH2MsgChannelWindowAdjust {
			t.Errorf("expected window_adjust credit-back, got %d", adjust.Type)
		}
		ar := packet.NewReader(adjust.Payload)
		_, _ = ar.Uint32() // remote channel id
		n, _ := ar.Uint32()
		if n != uint32(len("hello")) {
			t.Errorf("window_adjust credited %d, want %d (the data length)", n, len("hello"))
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run() }()

	ch, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	buf := make([]byte, 5)
	n, err := ch.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fake server")
	}
	server.Close()
	<-runDone
}

// TestCreditWindowMatchesReceivedLength covers the ingress flow-control
// invariant directly: a CHANNEL_DATA payload of any size must be credited
// back with a WINDOW_ADJUST for that exact size, not a fixed constant such
// as the channel's local max packet size.
func TestCreditWindowMatchesReceivedLength(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	payload := make([]byte, 42)
	for i := range payload {
		payload[i] = byte(i)
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)

		pkt := readServerPacket(t, server)
		r := packet.NewReader(pkt.Payload)
		_, _ = r.Str()
		localID, _ := r.Uint32()

		confirm := packet.NewRawBuilder().Uint32(localID).Uint32(0).Uint32(SessionInitialWindow).Uint32(SessionMaxPacket).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelOpenConfirm, confirm)

		data := packet.NewRawBuilder().Uint32(0).String(payload).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelData, data)

		adjust := readServerPacket(t, server)
		if adjust.Type != proto.SSH2MsgChannelWindowAdjust {
			t.Fatalf("expected window_adjust credit-back, got %d", adjust.Type)
		}
		ar := packet.NewReader(adjust.Payload)
		_, _ = ar.Uint32() // remote channel id
		n, _ := ar.Uint32()
		if n != uint32(len(payload)) {
			t.Errorf("window_adjust credited %d, want %d (the data length)", n, len(payload))
		}
		if n == SessionMaxPacket {
			t.Errorf("window_adjust credited the fixed max packet size instead of the actual received length")
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run() }()

	ch, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	buf := make([]byte, len(payload))
	n, err := ch.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fake server")
	}
	server.Close()
	<-runDone
}

// TestOpenFailureReturnsError covers the CHANNEL_OPEN_FAILURE branch.
func TestOpenFailureReturnsError(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	go func() {
		pkt := readServerPacket(t, server)
		r := packet.NewReader(pkt.Payload)
		_, _ = r.Str()
		localID, _ := r.Uint32()
		fail := packet.NewRawBuilder().Uint32(localID).Uint32(uint32(proto.DisconnectNoMoreAuthMethodsAvailable)).Str("no").Str("en").Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelOpenFailure, fail)
	}()

	go m.Run()

	if _, err := m.OpenSession(); err == nil {
		t.Fatal("expected error from refused channel open")
	}
}

// TestRemoteOpenInvokesHandler covers a server-initiated CHANNEL_OPEN, the
// accept path through OnOpenRequest, and the resulting OnNewChannel call.
func TestRemoteOpenInvokesHandler(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	m.OnOpenRequest = func(chanType string, extra []byte) (bool, uint32, string) {
		if chanType != "x11" {
			return false, proto.DisconnectProtocolError, "unexpected"
		}
		return true, 0, ""
	}
	newChanCh := make(chan *Channel, 1)
	m.OnNewChannel = func(ch *Channel) { newChanCh <- ch }

	go m.Run()

	open := packet.NewRawBuilder().Str("x11").Uint32(7).Uint32(SessionInitialWindow).Uint32(SessionMaxPacket).Bytes()
	writeServerPacket(t, server, proto.SSH2MsgChannelOpen, open)

	confirm := readServerPacket(t, server)
	if confirm.Type != proto.SSH2MsgChannelOpenConfirm {
		t.Fatalf("expected open_confirmation, got %d", confirm.Type)
	}

	select {
	case ch := <-newChanCh:
		if ch.ChanType != "x11" {
			t.Errorf("expected x11 channel, got %q", ch.ChanType)
		}
		if ch.RemoteID != 7 {
			t.Errorf("expected remote id 7, got %d", ch.RemoteID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnNewChannel")
	}
}

// TestChannelRequestExitStatus covers a non-want-reply CHANNEL_REQUEST
// carrying exit-status.
func TestChannelRequestExitStatus(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	go func() {
		pkt := readServerPacket(t, server)
		r := packet.NewReader(pkt.Payload)
		_, _ = r.Str()
		localID, _ := r.Uint32()
		confirm := packet.NewRawBuilder().Uint32(localID).Uint32(0).Uint32(SessionInitialWindow).Uint32(SessionMaxPacket).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelOpenConfirm, confirm)

		req := packet.NewRawBuilder().Uint32(localID).Str("exit-status").Bool(false).Uint32(3).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelRequest, req)
	}()

	go m.Run()

	ch, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := ch.ExitStatus(); ok {
			if status != 3 {
				t.Fatalf("expected exit status 3, got %d", status)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for exit status")
}

// TestCloseHandshake covers local Close, and the peer answering with its
// own CHANNEL_CLOSE, at which point the channel must be forgotten.
func TestCloseHandshake(t *testing.T) {
	m, server := newTestMux(t)
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		pkt := readServerPacket(t, server)
		r := packet.NewReader(pkt.Payload)
		_, _ = r.Str()
		localID, _ := r.Uint32()
		confirm := packet.NewRawBuilder().Uint32(localID).Uint32(0).Uint32(SessionInitialWindow).Uint32(SessionMaxPacket).Bytes()
		writeServerPacket(t, server, proto.SSH2MsgChannelOpenConfirm, confirm)

		closePkt := readServerPacket(t, server)
		if closePkt.Type != proto.SSH2MsgChannelClose {
			t.Errorf("expected channel_close, got %d", closePkt.Type)
		}
		writeServerPacket(t, server, proto.SSH2MsgChannelClose, packet.NewRawBuilder().Uint32(localID).Bytes())
	}()

	go m.Run()

	ch, err := m.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fake server")
	}
}
