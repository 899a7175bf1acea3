package algorithms

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	for _, alg := range CipherRegistry {
		alg := alg
		t.Run(alg.Name, func(t *testing.T) {
			key := make([]byte, alg.KeyLen)
			iv := make([]byte, alg.IVLen)
			rand.Read(key)
			rand.Read(iv)

			enc, err := alg.New(key, iv, true)
			if err != nil {
				t.Fatalf("New(encrypt): %v", err)
			}
			dec, err := alg.New(key, iv, false)
			if err != nil {
				t.Fatalf("New(decrypt): %v", err)
			}

			bs := enc.BlockSize()
			if bs == 0 {
				bs = 1
			}
			plain := make([]byte, bs*4)
			rand.Read(plain)

			buf := append([]byte{}, plain...)
			enc.Encrypt(buf)
			if bytes.Equal(buf, plain) && len(plain) > 0 {
				t.Fatalf("ciphertext equals plaintext")
			}
			dec.Decrypt(buf)
			if !bytes.Equal(buf, plain) {
				t.Fatalf("round trip mismatch for %s", alg.Name)
			}
		})
	}
}

func TestMACGenerateVerify(t *testing.T) {
	for _, alg := range MACRegistry {
		alg := alg
		t.Run(alg.Name, func(t *testing.T) {
			key := make([]byte, 32)
			rand.Read(key)
			m := NewMAC(alg, key, false)

			payload := []byte("hello ssh")
			mac := m.Generate(5, payload)
			if len(mac) != alg.Len {
				t.Fatalf("mac length = %d, want %d", len(mac), alg.Len)
			}
			if !m.Verify(5, payload, mac) {
				t.Fatalf("Verify failed for matching mac")
			}
			if m.Verify(6, payload, mac) {
				t.Fatalf("Verify succeeded with wrong sequence number")
			}
			tampered := append([]byte{}, payload...)
			tampered[0] ^= 0xff
			if m.Verify(5, tampered, mac) {
				t.Fatalf("Verify succeeded with tampered payload")
			}
		})
	}
}

func TestRSAHostKeySignVerify(t *testing.T) {
	priv := testRSAKey(t)
	hk := NewRSAHostKeyFromPrivate(priv)

	data := []byte("exchange hash")
	sig, err := hk.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parsed, err := newRSAHostKey(hk.Blob())
	if err != nil {
		t.Fatalf("newRSAHostKey: %v", err)
	}
	if err := parsed.VerifySig(data, sig); err != nil {
		t.Fatalf("VerifySig: %v", err)
	}
	if err := parsed.VerifySig([]byte("tampered"), sig); err == nil {
		t.Fatalf("VerifySig should fail on tampered data")
	}
}
