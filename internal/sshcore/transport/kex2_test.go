package transport

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"math/big"
	"net"
	"testing"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/keys"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
)

// fakeServerSSH2 plays the server half of one SSH-2 group1 key exchange
// over conn, using the same packet/algorithms/keys building blocks as the
// client. It exists purely to exercise Client.Handshake end to end.
func fakeServerSSH2(t *testing.T, conn net.Conn, hostPriv *rsa.PrivateKey) {
	t.Helper()
	r := bufio.NewReader(conn)

	// version exchange
	local := "SSH-2.0-faketest_server"
	if _, err := fmt.Fprintf(conn, "%s\r\n", local); err != nil {
		t.Errorf("server: write version: %v", err)
		return
	}
	remoteLine, err := r.ReadString('\n')
	if err != nil {
		t.Errorf("server: read version: %v", err)
		return
	}
	remote := trimCRLF(remoteLine)

	framer := packet.NewSSH2Framer()

	// KEXINIT
	prefs := DefaultPreferences()
	localKexInit, err := buildKexInitPayload(prefs)
	if err != nil {
		t.Errorf("server: build kexinit: %v", err)
		return
	}
	if err := writePacket(conn, framer, localKexInit[0], localKexInit[1:]); err != nil {
		t.Errorf("server: send kexinit: %v", err)
		return
	}
	clientPkt, err := framer.ReadPacket(r)
	if err != nil {
		t.Errorf("server: read kexinit: %v", err)
		return
	}
	clientRaw := append([]byte{clientPkt.Type}, clientPkt.Payload...)

	hostKey := algorithms.NewRSAHostKeyFromPrivate(hostPriv)

	// DH group1
	p, g := algorithms.Group1P, algorithms.Group1Generator
	y, err := rand.Int(rand.Reader, new(big.Int).Sub(p, big.NewInt(1)))
	if err != nil {
		t.Errorf("server: rand y: %v", err)
		return
	}
	y.Add(y, big.NewInt(1))
	f := new(big.Int).Exp(g, y, p)

	initPkt, err := framer.ReadPacket(r)
	if err != nil {
		t.Errorf("server: read kexdh_init: %v", err)
		return
	}
	ir := packet.NewReader(initPkt.Payload)
	e, err := ir.MpintSSH2()
	if err != nil {
		t.Errorf("server: read e: %v", err)
		return
	}
	K := new(big.Int).Exp(e, y, p)

	hb := packet.NewRawBuilder()
	hb.Str(remote) // V_C: the client's identification string
	hb.Str(local)  // V_S: ours
	hb.String(clientRaw) // I_C
	hb.String(localKexInit) // I_S
	hb.String(hostKey.Blob())
	hb.MpintSSH2(e)
	hb.MpintSSH2(f)
	hb.MpintSSH2(K)
	H := sha1.Sum(hb.Bytes())

	sig, err := hostKey.Sign(H[:])
	if err != nil {
		t.Errorf("server: sign: %v", err)
		return
	}

	replyPayload := packet.NewRawBuilder().String(hostKey.Blob()).MpintSSH2(f).String(sig).Bytes()
	if err := writePacket(conn, framer, proto.SSH2MsgKexDHReply, replyPayload); err != nil {
		t.Errorf("server: send kexdh_reply: %v", err)
		return
	}

	cipherAlg, _ := algorithms.FindCipher(prefs.CipherCS[0])
	macAlg, _ := algorithms.FindMAC(prefs.MACCS[0], false)

	derivedToClient, err := keys.Derive(K, H[:], H[:], cipherAlg.IVLen, cipherAlg.KeyLen, macAlg.Len)
	if err != nil {
		t.Errorf("server: derive: %v", err)
		return
	}
	derivedFromClient, err := keys.Derive(K, H[:], H[:], cipherAlg.IVLen, cipherAlg.KeyLen, macAlg.Len)
	if err != nil {
		t.Errorf("server: derive: %v", err)
		return
	}

	if err := writePacket(conn, framer, proto.SSH2MsgNewKeys, nil); err != nil {
		t.Errorf("server: send newkeys: %v", err)
		return
	}
	encToClient, err := cipherAlg.New(derivedToClient.EncServerToClient, derivedToClient.IVServerToClient, true)
	if err != nil {
		t.Errorf("server: new enc cipher: %v", err)
		return
	}
	framer.SetEncrypt(encToClient, algorithms.NewMAC(macAlg, derivedToClient.MACServerToClient, false))

	newKeysPkt, err := framer.ReadPacket(r)
	if err != nil {
		t.Errorf("server: read newkeys: %v", err)
		return
	}
	if newKeysPkt.Type != proto.SSH2MsgNewKeys {
		t.Errorf("server: expected NEWKEYS, got %d", newKeysPkt.Type)
		return
	}
	decFromClient, err := cipherAlg.New(derivedFromClient.EncClientToServer, derivedFromClient.IVClientToServer, false)
	if err != nil {
		t.Errorf("server: new dec cipher: %v", err)
		return
	}
	framer.SetDecrypt(decFromClient, algorithms.NewMAC(macAlg, derivedFromClient.MACClientToServer, false))

	// Exchange one application packet each way to prove installed keys work.
	got, err := framer.ReadPacket(r)
	if err != nil {
		t.Errorf("server: read app packet: %v", err)
		return
	}
	if got.Type != 200 {
		t.Errorf("server: got type %d, want 200", got.Type)
	}
	if err := writePacket(conn, framer, 201, []byte("pong")); err != nil {
		t.Errorf("server: send app packet: %v", err)
	}
}

func writePacket(conn net.Conn, f *packet.SSH2Framer, msgType byte, payload []byte) error {
	raw, err := f.EncodePacket(append([]byte{msgType}, payload...))
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}

// asyncWriteConn decouples Write from the peer's read cadence: net.Pipe has
// no internal buffering, so two sides that both write-then-read without
// strict turn-taking would otherwise deadlock. Writes are queued and
// flushed by a background goroutine; Reads pass through unchanged.
type asyncWriteConn struct {
	net.Conn
	out chan []byte
}

func newAsyncWriteConn(c net.Conn) *asyncWriteConn {
	a := &asyncWriteConn{Conn: c, out: make(chan []byte, 256)}
	go func() {
		for b := range a.out {
			if _, err := c.Write(b); err != nil {
				return
			}
		}
	}()
	return a
}

func (a *asyncWriteConn) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	a.out <- cp
	return len(p), nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestClientServerHandshakeSSH2(t *testing.T) {
	rawClientConn, rawServerConn := net.Pipe()
	clientConn := newAsyncWriteConn(rawClientConn)
	serverConn := newAsyncWriteConn(rawServerConn)
	defer clientConn.Close()
	defer serverConn.Close()

	hostPriv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServerSSH2(t, serverConn, hostPriv)
	}()

	client := NewClient(clientConn, "example.com", 22, nil, nil)
	if err := client.Handshake(true); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if client.SessionID == nil {
		t.Fatalf("SessionID not set after handshake")
	}

	if err := client.SendPacket(200, []byte("ping")); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	pkt, err := client.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if pkt.Type != 201 || string(pkt.Payload) != "pong" {
		t.Fatalf("got (%d, %q), want (201, \"pong\")", pkt.Type, pkt.Payload)
	}

	<-done
}
