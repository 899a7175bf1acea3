package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

// newTestPair returns a transport.Client with no installed cipher/MAC
// (cleartext framer) wired to one end of a pipe, and the raw net.Conn for
// a hand-rolled fake server on the other end.
func newTestPair(t *testing.T) (*transport.Client, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	c := transport.NewClient(a, "example.com", 22, nil, nil)
	c.Framer2 = packet.NewSSH2Framer()
	return c, b
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

func TestAuthenticateSSH2PasswordSuccess(t *testing.T) {
	c, server := newTestPair(t)
	defer server.Close()
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// service request
		pkt := readServerPacket(t, server)
		if pkt.Type != proto.SSH2MsgServiceRequest {
			t.Errorf("expected service_request, got %d", pkt.Type)
			return
		}
		writeServerPacket(t, server, proto.SSH2MsgServiceAccept, packet.NewRawBuilder().Str("ssh-userauth").Bytes())

		// none probe
		pkt = readServerPacket(t, server)
		r := packet.NewReader(pkt.Payload)
		_, _ = r.Str()
		_, _ = r.Str()
		method, _ := r.Str()
		if method != "none" {
			t.Errorf("expected none probe, got %q", method)
		}
		writeServerPacket(t, server, proto.SSH2MsgUserauthFailure,
			packet.NewRawBuilder().NameList([]string{"password"}).Bool(false).Bytes())

		// password + ignore
		pkt = readServerPacket(t, server)
		if pkt.Type != proto.SSH2MsgUserauthRequest {
			t.Errorf("expected password request, got %d", pkt.Type)
			return
		}
		r = packet.NewReader(pkt.Payload)
		user, _ := r.Str()
		_, _ = r.Str()
		method, _ = r.Str()
		_, _ = r.Bool()
		pass, _ := r.Str()
		if user != "alice" || method != "password" || pass != "hunter2" {
			t.Errorf("unexpected password request: user=%q method=%q pass=%q", user, method, pass)
		}

		ignorePkt := readServerPacket(t, server)
		if ignorePkt.Type != proto.SSH2MsgIgnore {
			t.Errorf("expected ignore packet, got %d", ignorePkt.Type)
		}

		writeServerPacket(t, server, proto.SSH2MsgUserauthSuccess, nil)
	}()

	cfg := Config{
		Username: "alice",
		Password: func(string) (string, bool) { return "hunter2", true },
	}
	if err := AuthenticateSSH2(c, cfg); err != nil {
		t.Fatalf("AuthenticateSSH2: %v", err)
	}
	<-done
}

func TestAuthenticateSSH2PublicKeySuccess(t *testing.T) {
	c, server := newTestPair(t)
	defer server.Close()
	defer c.Close()
	c.SessionID = []byte("fixed-session-id-for-test-vec01")

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hostKey := algorithms.NewRSAHostKeyFromPrivate(priv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readServerPacket(t, server) // service request
		writeServerPacket(t, server, proto.SSH2MsgServiceAccept, packet.NewRawBuilder().Str("ssh-userauth").Bytes())

		readServerPacket(t, server) // none probe
		writeServerPacket(t, server, proto.SSH2MsgUserauthFailure,
			packet.NewRawBuilder().NameList([]string{"publickey"}).Bool(false).Bytes())

		query := readServerPacket(t, server)
		r := packet.NewReader(query.Payload)
		_, _ = r.Str()
		_, _ = r.Str()
		_, _ = r.Str()
		hasSig, _ := r.Bool()
		if hasSig {
			t.Errorf("expected query (no signature) first")
		}
		algo, _ := r.Str()
		blob, _ := r.String()
		writeServerPacket(t, server, proto.SSH2MsgUserauthPKOK,
			packet.NewRawBuilder().Str(algo).String(blob).Bytes())

		signed := readServerPacket(t, server)
		sr := packet.NewReader(signed.Payload)
		user, _ := sr.Str()
		_, _ = sr.Str()
		_, _ = sr.Str()
		hasSig, _ = sr.Bool()
		sAlgo, _ := sr.Str()
		sBlob, _ := sr.String()
		sig, _ := sr.String()
		if user != "bob" || !hasSig || sAlgo != "ssh-rsa" {
			t.Errorf("unexpected signed request: user=%q hasSig=%v algo=%q", user, hasSig, sAlgo)
		}

		verifyOver := packet.NewRawBuilder().
			String(c.SessionID).Byte(proto.SSH2MsgUserauthRequest).
			Str(user).Str("ssh-connection").Str("publickey").
			Bool(true).Str(sAlgo).String(sBlob).Bytes()
		if err := verifySigBlob(priv, verifyOver, sig); err != nil {
			t.Errorf("signature verification failed: %v", err)
		}

		writeServerPacket(t, server, proto.SSH2MsgUserauthSuccess, nil)
	}()

	cfg := Config{
		Username:  "bob",
		LocalKeys: []LocalKey{{HostKey: hostKey}},
	}
	if err := AuthenticateSSH2(c, cfg); err != nil {
		t.Fatalf("AuthenticateSSH2: %v", err)
	}
	<-done
}

func verifySigBlob(priv *rsa.PrivateKey, data []byte, sigWire []byte) error {
	hk := algorithms.NewRSAHostKeyFromPrivate(priv)
	return hk.VerifySig(data, sigWire)
}
