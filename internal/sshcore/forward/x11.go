package forward

import (
	"crypto/des" //nolint:staticcheck // XDM-AUTHORIZATION-1 is specified in terms of DES; no substitute exists.
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// X11Cookie is the 16-byte MIT-MAGIC-COOKIE-1 value a session negotiated
// with the server at x11-req time; its first half doubles as the
// XDM-AUTHORIZATION-1 verification id and its second half as the DES key
// ("X11").
type X11Cookie [16]byte

const xdmSkew = 20 * time.Minute

// replayKey identifies one XDM-AUTHORIZATION-1 authenticator for replay
// detection: the pair (time, client id) the protocol calls out explicitly.
type replayKey struct {
	t        uint32
	clientID [8]byte
}

// ReplayCache rejects a previously seen XDM-AUTHORIZATION-1 authenticator,
// looking it up by (time, client id) in an unordered map and
// garbage-collecting entries older than the allowed clock skew on every
// insert.
type ReplayCache struct {
	mu      sync.Mutex
	seen    map[replayKey]time.Time
	nowFunc func() time.Time
}

// NewReplayCache returns an empty cache. now defaults to time.Now when nil
// (tests substitute a fixed clock).
func NewReplayCache(now func() time.Time) *ReplayCache {
	if now == nil {
		now = time.Now
	}
	return &ReplayCache{seen: make(map[replayKey]time.Time), nowFunc: now}
}

// checkAndInsert reports whether key has already been seen, and if not,
// records it and sweeps stale entries.
func (c *ReplayCache) checkAndInsert(key replayKey, authTime time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[key]; dup {
		return true
	}
	c.seen[key] = authTime
	cutoff := c.nowFunc().Add(-xdmSkew)
	for k, t := range c.seen {
		if t.Before(cutoff) {
			delete(c.seen, k)
		}
	}
	return false
}

// connectionSetup is the X11 client's initial handshake packet (12-byte
// fixed header, then the authorization protocol name and data, each
// individually padded to a multiple of 4 bytes).
type connectionSetup struct {
	byteOrder       byte
	protoMajor      uint16
	protoMinor      uint16
	authProtoName   string
	authProtoData   []byte
	remainingHeader []byte // the fixed 12-byte header, verbatim, for re-emission
}

func readConnectionSetup(r io.Reader) (*connectionSetup, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("forward: read x11 connection setup header: %w", err)
	}
	order := hdr[0]
	var bo binary.ByteOrder = binary.BigEndian
	if order == 'l' {
		bo = binary.LittleEndian
	}
	nameLen := bo.Uint16(hdr[6:8])
	dataLen := bo.Uint16(hdr[8:10])

	name, err := readPadded(r, int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("forward: read x11 auth proto name: %w", err)
	}
	data, err := readPadded(r, int(dataLen))
	if err != nil {
		return nil, fmt.Errorf("forward: read x11 auth proto data: %w", err)
	}

	return &connectionSetup{
		byteOrder:       order,
		protoMajor:      bo.Uint16(hdr[0:2]),
		protoMinor:      bo.Uint16(hdr[2:4]),
		authProtoName:   string(name),
		authProtoData:   data,
		remainingHeader: hdr[:],
	}, nil
}

// readPadded reads n bytes of content followed by however many padding
// bytes round n up to a multiple of 4, returning only the content.
func readPadded(r io.Reader, n int) ([]byte, error) {
	padded := (n + 3) &^ 3
	buf := make([]byte, padded)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// VerifyMITMagicCookie1 does a constant-time comparison of the client's
// presented cookie against the one issued locally.
func VerifyMITMagicCookie1(presented []byte, local X11Cookie) bool {
	if len(presented) != len(local) {
		return false
	}
	return subtle.ConstantTimeCompare(presented, local[:]) == 1
}

// xdmAuthenticator is the decrypted 24-byte XDM-AUTHORIZATION-1 payload:
// an 8-byte echo of the cookie's verification half, a 32-bit client IP, a
// 16-bit client port, a 32-bit timestamp and 48 bits of zero padding.
type xdmAuthenticator struct {
	clientID [8]byte
	clientIP uint32
	port     uint16
	t        uint32
}

// VerifyXDMAuthorization1 decrypts and checks a 24-byte XDM-AUTHORIZATION-1
// authenticator ("X11"). now is injectable for tests.
func VerifyXDMAuthorization1(authData []byte, local X11Cookie, cache *ReplayCache, now func() time.Time) error {
	if len(authData) != 24 {
		return fmt.Errorf("forward: xdm-authorization-1: authenticator must be 24 bytes, got %d", len(authData))
	}
	if now == nil {
		now = time.Now
	}

	block, err := des.NewCipher(local[8:16])
	if err != nil {
		return fmt.Errorf("forward: xdm-authorization-1: build cipher: %w", err)
	}
	plain := make([]byte, 24)
	for off := 0; off < 24; off += des.BlockSize {
		block.Decrypt(plain[off:off+des.BlockSize], authData[off:off+des.BlockSize])
	}

	auth := xdmAuthenticator{
		clientIP: binary.BigEndian.Uint32(plain[8:12]),
		port:     binary.BigEndian.Uint16(plain[12:14]),
		t:        binary.BigEndian.Uint32(plain[14:18]),
	}
	copy(auth.clientID[:], plain[0:8])

	if subtle.ConstantTimeCompare(auth.clientID[:], local[0:8]) != 1 {
		return fmt.Errorf("forward: xdm-authorization-1: client id mismatch")
	}

	authTime := time.Unix(int64(auth.t), 0)
	if d := now().Sub(authTime); d > xdmSkew || d < -xdmSkew {
		return fmt.Errorf("forward: xdm-authorization-1: timestamp %v outside %v skew", authTime, xdmSkew)
	}

	if cache != nil {
		key := replayKey{t: auth.t, clientID: auth.clientID}
		if cache.checkAndInsert(key, authTime) {
			return fmt.Errorf("forward: xdm-authorization-1: replayed authenticator")
		}
	}
	return nil
}

// ServeX11 validates a forwarded X11 channel's initial connection-setup
// packet and, on success, proxies the rest of the stream to the real X
// display ("X11... on success, allocate a local id and
// confirm").
func ServeX11(ch ChannelConn, cookie X11Cookie, cache *ReplayCache, dialDisplay func() (net.Conn, error)) error {
	setup, err := readConnectionSetup(ch)
	if err != nil {
		return err
	}

	switch setup.authProtoName {
	case "MIT-MAGIC-COOKIE-1":
		if !VerifyMITMagicCookie1(setup.authProtoData, cookie) {
			return fmt.Errorf("forward: mit-magic-cookie-1: verification failed")
		}
	case "XDM-AUTHORIZATION-1":
		if err := VerifyXDMAuthorization1(setup.authProtoData, cookie, cache, nil); err != nil {
			return err
		}
	default:
		return fmt.Errorf("forward: unsupported x11 auth protocol %q", setup.authProtoName)
	}

	display, err := dialDisplay()
	if err != nil {
		return fmt.Errorf("forward: dial local x11 display: %w", err)
	}
	defer display.Close()
	defer ch.Close()

	if err := writeConnectionSetup(display, setup); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { _, err := io.Copy(display, ch); errCh <- err }()
	go func() { _, err := io.Copy(ch, display); errCh <- err }()
	return <-errCh
}

// writeConnectionSetup re-emits the client's 12-byte setup header with the
// authorization name and data lengths set to zero and no authorization
// fields after it: the local X server sees an unauthenticated setup, since
// the forwarder has already authenticated the client.
func writeConnectionSetup(w io.Writer, setup *connectionSetup) error {
	var hdr [12]byte
	copy(hdr[:], setup.remainingHeader)
	var bo binary.ByteOrder = binary.BigEndian
	if setup.byteOrder == 'l' {
		bo = binary.LittleEndian
	}
	bo.PutUint16(hdr[6:8], 0)
	bo.PutUint16(hdr[8:10], 0)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("forward: write x11 connection setup: %w", err)
	}
	return nil
}
