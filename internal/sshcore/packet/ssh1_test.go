package packet

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
)

func TestSSH1FramerCleartextRoundTrip(t *testing.T) {
	f := NewSSH1Framer()
	for _, data := range [][]byte{
		[]byte(""),
		[]byte("short"),
		bytes.Repeat([]byte("x"), 100),
	} {
		encoded, err := f.EncodePacket(12, data)
		if err != nil {
			t.Fatalf("EncodePacket: %v", err)
		}
		g := NewSSH1Framer()
		pkt, err := g.ReadPacket(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if pkt.Type != 12 {
			t.Fatalf("Type = %d, want 12", pkt.Type)
		}
		if !bytes.Equal(pkt.Payload, data) {
			t.Fatalf("Payload = %v, want %v", pkt.Payload, data)
		}
	}
}

func TestSSH1FramerEncryptedRoundTrip(t *testing.T) {
	alg, ok := algorithms.FindSSH1Cipher(3) // 3des
	if !ok {
		t.Fatalf("3des not registered")
	}
	key := make([]byte, 32)
	rand.Read(key)

	encCipher, err := alg.New(key, true)
	if err != nil {
		t.Fatalf("New(encrypt): %v", err)
	}
	decCipher, err := alg.New(key, false)
	if err != nil {
		t.Fatalf("New(decrypt): %v", err)
	}

	sender := NewSSH1Framer()
	sender.SetEncrypt(encCipher)
	receiver := NewSSH1Framer()
	receiver.SetDecrypt(decCipher)

	for i := 0; i < 5; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 16+i)
		encoded, err := sender.EncodePacket(byte(20+i), data)
		if err != nil {
			t.Fatalf("EncodePacket #%d: %v", i, err)
		}
		pkt, err := receiver.ReadPacket(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("ReadPacket #%d: %v", i, err)
		}
		if pkt.Type != byte(20+i) {
			t.Fatalf("#%d: Type = %d, want %d", i, pkt.Type, 20+i)
		}
		if !bytes.Equal(pkt.Payload, data) {
			t.Fatalf("#%d: Payload = %v, want %v", i, pkt.Payload, data)
		}
	}
}

func TestSSH1FramerCRCMismatchDetected(t *testing.T) {
	f := NewSSH1Framer()
	encoded, err := f.EncodePacket(1, []byte("hello"))
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	encoded[len(encoded)-1] ^= 0xff

	g := NewSSH1Framer()
	if _, err := g.ReadPacket(bytes.NewReader(encoded)); err == nil {
		t.Fatalf("expected crc mismatch error")
	}
}
