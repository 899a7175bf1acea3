package keys

import (
	"bytes"
	"math/big"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	K := big.NewInt(123456789)
	H := []byte("exchange-hash")
	sessionID := []byte("session-id")

	k1, err := Derive(K, H, sessionID, 16, 32, 20)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	k2, err := Derive(K, H, sessionID, 16, 32, 20)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if !bytes.Equal(k1.EncClientToServer, k2.EncClientToServer) {
		t.Fatalf("derivation is not deterministic")
	}
	if len(k1.IVClientToServer) != 16 || len(k1.EncClientToServer) != 32 || len(k1.MACClientToServer) != 20 {
		t.Fatalf("unexpected lengths: iv=%d enc=%d mac=%d",
			len(k1.IVClientToServer), len(k1.EncClientToServer), len(k1.MACClientToServer))
	}
}

func TestDeriveDirectionsDiffer(t *testing.T) {
	K := big.NewInt(42)
	H := []byte("H")
	sessionID := []byte("sid")

	k, err := Derive(K, H, sessionID, 8, 8, 8)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pairs := [][2][]byte{
		{k.IVClientToServer, k.IVServerToClient},
		{k.EncClientToServer, k.EncServerToClient},
		{k.MACClientToServer, k.MACServerToClient},
	}
	for i, p := range pairs {
		if bytes.Equal(p[0], p[1]) {
			t.Fatalf("pair %d: client-to-server and server-to-client keystreams are equal", i)
		}
	}
}

func TestDeriveLongKeyExtendsBeyondOneBlock(t *testing.T) {
	K := big.NewInt(7)
	H := []byte("HH")
	sessionID := []byte("s")

	k, err := Derive(K, H, sessionID, 0, 64, 0) // longer than one SHA-1 block (20 bytes)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(k.EncClientToServer) != 64 {
		t.Fatalf("len = %d, want 64", len(k.EncClientToServer))
	}
	// first 20 bytes must match the short derivation's first block exactly
	short, err := Derive(K, H, sessionID, 0, 20, 0)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !bytes.Equal(k.EncClientToServer[:20], short.EncClientToServer) {
		t.Fatalf("extension does not preserve the first block")
	}
}

func TestSessionIDSSH1AndSessionKey(t *testing.T) {
	sid := SessionIDSSH1([]byte("host-modulus"), []byte("server-modulus"), []byte("cookie-bytes-16"))

	key, err := GenerateSessionKeySSH1(sid)
	if err != nil {
		t.Fatalf("GenerateSessionKeySSH1: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("len(key) = %d, want 32", len(key))
	}
	// XOR the low 16 bytes back with sessionID and the input randomness
	// should not equal the session id itself (astronomically unlikely).
	for i := 0; i < 16; i++ {
		key[16+i] ^= sid[i]
	}
	if bytes.Equal(key[16:], sid[:]) {
		t.Fatalf("recovered random tail equals session id")
	}
}
