package forward

import (
	"crypto/des"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func buildConnectionSetup(authName string, authData []byte) []byte {
	namePad := (len(authName) + 3) &^ 3
	dataPad := (len(authData) + 3) &^ 3

	hdr := make([]byte, 12)
	hdr[0] = 'B'
	binary.BigEndian.PutUint16(hdr[0:2], 11)
	binary.BigEndian.PutUint16(hdr[2:4], 0)
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(authName)))
	binary.BigEndian.PutUint16(hdr[8:10], uint16(len(authData)))

	out := append([]byte{}, hdr...)
	nameField := make([]byte, namePad)
	copy(nameField, authName)
	out = append(out, nameField...)
	dataField := make([]byte, dataPad)
	copy(dataField, authData)
	out = append(out, dataField...)
	return out
}

func TestVerifyMITMagicCookie1(t *testing.T) {
	var cookie X11Cookie
	for i := range cookie {
		cookie[i] = byte(i + 1)
	}
	if !VerifyMITMagicCookie1(cookie[:], cookie) {
		t.Fatal("expected matching cookie to verify")
	}
	wrong := cookie
	wrong[0] ^= 0xff
	if VerifyMITMagicCookie1(wrong[:], cookie) {
		t.Fatal("expected mismatched cookie to fail")
	}
}

func encryptXDMAuthenticator(t *testing.T, key [8]byte, clientID [8]byte, ip uint32, port uint16, ts uint32) []byte {
	t.Helper()
	plain := make([]byte, 24)
	copy(plain[0:8], clientID[:])
	binary.BigEndian.PutUint32(plain[8:12], ip)
	binary.BigEndian.PutUint16(plain[12:14], port)
	binary.BigEndian.PutUint32(plain[14:18], ts)

	block, err := des.NewCipher(key[:])
	if err != nil {
		t.Fatalf("des.NewCipher: %v", err)
	}
	cipher := make([]byte, 24)
	for off := 0; off < 24; off += des.BlockSize {
		block.Encrypt(cipher[off:off+des.BlockSize], plain[off:off+des.BlockSize])
	}
	return cipher
}

func TestVerifyXDMAuthorization1Success(t *testing.T) {
	var cookie X11Cookie
	for i := range cookie {
		cookie[i] = byte(i + 1)
	}
	var clientID [8]byte
	copy(clientID[:], cookie[0:8])

	now := time.Unix(1_700_000_000, 0)
	auth := encryptXDMAuthenticator(t, [8]byte(cookie[8:16]), clientID, 0x7f000001, 6010, uint32(now.Unix()))

	cache := NewReplayCache(func() time.Time { return now })
	if err := VerifyXDMAuthorization1(auth, cookie, cache, func() time.Time { return now }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// A second presentation of the same authenticator must be rejected as a replay.
	if err := VerifyXDMAuthorization1(auth, cookie, cache, func() time.Time { return now }); err == nil {
		t.Fatal("expected replay to be rejected")
	}
}

func TestVerifyXDMAuthorization1RejectsStaleTimestamp(t *testing.T) {
	var cookie X11Cookie
	for i := range cookie {
		cookie[i] = byte(i + 1)
	}
	var clientID [8]byte
	copy(clientID[:], cookie[0:8])

	issued := time.Unix(1_700_000_000, 0)
	now := issued.Add(25 * time.Minute)
	auth := encryptXDMAuthenticator(t, [8]byte(cookie[8:16]), clientID, 0x7f000001, 6010, uint32(issued.Unix()))

	if err := VerifyXDMAuthorization1(auth, cookie, nil, func() time.Time { return now }); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestVerifyXDMAuthorization1RejectsWrongClientID(t *testing.T) {
	var cookie X11Cookie
	for i := range cookie {
		cookie[i] = byte(i + 1)
	}
	var wrongID [8]byte
	copy(wrongID[:], []byte("deadbeef"))

	now := time.Unix(1_700_000_000, 0)
	auth := encryptXDMAuthenticator(t, [8]byte(cookie[8:16]), wrongID, 0x7f000001, 6010, uint32(now.Unix()))

	if err := VerifyXDMAuthorization1(auth, cookie, nil, func() time.Time { return now }); err == nil {
		t.Fatal("expected client id mismatch to be rejected")
	}
}

func TestServeX11RejectsBadCookie(t *testing.T) {
	var cookie X11Cookie
	for i := range cookie {
		cookie[i] = byte(i + 1)
	}
	chA, chB := net.Pipe()

	setup := buildConnectionSetup("MIT-MAGIC-COOKIE-1", []byte("wrong-cookie-16b"))
	done := make(chan error, 1)
	go func() {
		done <- ServeX11(chA, cookie, nil, func() (net.Conn, error) {
			t.Fatal("dialDisplay should not be called when auth fails")
			return nil, nil
		})
	}()

	if _, err := chB.Write(setup); err != nil {
		t.Fatalf("write setup: %v", err)
	}
	if err := <-done; err == nil {
		t.Fatal("expected ServeX11 to reject a bad cookie")
	}
	chB.Close()
}
