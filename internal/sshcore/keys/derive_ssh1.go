package keys

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"io"
)

// SessionIDSSH1 computes the SSH-1 session identifier:
// MD5(host_key_modulus || server_key_modulus || cookie).
func SessionIDSSH1(hostKeyModulus, serverKeyModulus, cookie []byte) [16]byte {
	h := md5.New()
	h.Write(hostKeyModulus)
	h.Write(serverKeyModulus)
	h.Write(cookie)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenerateSessionKeySSH1 produces the 32-byte SSH-1 session key: 32 random
// bytes with the low-order 16 bytes XORed against sessionID, so that
// knowledge of the session id alone cannot help recover the key, while
// still letting the server derive the same low 16 bytes from its own copy
// of the session id as a consistency check.
func GenerateSessionKeySSH1(sessionID [16]byte) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("keys: generate ssh1 session key: %w", err)
	}
	for i := 0; i < 16; i++ {
		key[16+i] ^= sessionID[i]
	}
	return key, nil
}
