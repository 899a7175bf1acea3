// Package mpint implements the two wire encodings of arbitrary-precision
// integers used by SSH ("Bignums"):
//
//   - SSH-1: uint16 bit-count followed by ceil(bitcount/8) big-endian bytes.
//   - SSH-2: uint32 byte-length followed by that many big-endian bytes,
//     unsigned, with a leading zero byte iff the high bit of the first byte
//     would otherwise be set.
//
// Negative integers are never valid on the wire; encoders reject them and
// decoders never produce them.
package mpint

import (
	"fmt"
	"math/big"
)

// EncodeSSH1 returns the SSH-1 mpint wire encoding of n.
func EncodeSSH1(n *big.Int) ([]byte, error) {
	if n.Sign() < 0 {
		return nil, fmt.Errorf("mpint: negative integers are not representable")
	}
	bits := n.BitLen()
	raw := n.Bytes()
	out := make([]byte, 2+len(raw))
	out[0] = byte(bits >> 8)
	out[1] = byte(bits)
	copy(out[2:], raw)
	return out, nil
}

// DecodeSSH1 reads one SSH-1 mpint from the front of buf and returns the
// value plus the number of bytes consumed.
func DecodeSSH1(buf []byte) (*big.Int, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("mpint: truncated ssh-1 bit count")
	}
	bits := int(buf[0])<<8 | int(buf[1])
	nbytes := (bits + 7) / 8
	if len(buf) < 2+nbytes {
		return nil, 0, fmt.Errorf("mpint: truncated ssh-1 value: need %d bytes, have %d", nbytes, len(buf)-2)
	}
	n := new(big.Int).SetBytes(buf[2 : 2+nbytes])
	return n, 2 + nbytes, nil
}

// EncodeSSH2 returns the SSH-2 mpint wire encoding of n (4-byte big-endian
// length prefix, unsigned big-endian magnitude, leading zero byte inserted
// when the magnitude's high bit is set).
func EncodeSSH2(n *big.Int) ([]byte, error) {
	if n.Sign() < 0 {
		return nil, fmt.Errorf("mpint: negative integers are not representable")
	}
	raw := n.Bytes()
	needsPad := len(raw) > 0 && raw[0]&0x80 != 0
	length := len(raw)
	if needsPad {
		length++
	}
	out := make([]byte, 4+length)
	out[0] = byte(length >> 24)
	out[1] = byte(length >> 16)
	out[2] = byte(length >> 8)
	out[3] = byte(length)
	if needsPad {
		copy(out[5:], raw)
	} else {
		copy(out[4:], raw)
	}
	return out, nil
}

// DecodeSSH2 reads one SSH-2 mpint from the front of buf and returns the
// value plus the number of bytes consumed.
func DecodeSSH2(buf []byte) (*big.Int, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("mpint: truncated ssh-2 length")
	}
	length := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if length < 0 || len(buf) < 4+length {
		return nil, 0, fmt.Errorf("mpint: truncated ssh-2 value: need %d bytes, have %d", length, len(buf)-4)
	}
	n := new(big.Int).SetBytes(buf[4 : 4+length])
	return n, 4 + length, nil
}
