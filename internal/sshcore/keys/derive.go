// Package keys derives the SSH-2 session keys from the shared secret and
// exchange hash produced by a key exchange.
package keys

import (
	"crypto/sha1"
	"math/big"

	"github.com/websoft9/sshcore/internal/sshcore/mpint"
)

// Six labelled keystreams, per RFC 4253 initial IVs, encryption keys
// and MAC keys for each direction.
const (
	labelIVClientToServer  = 'A'
	labelIVServerToClient  = 'B'
	labelEncClientToServer = 'C'
	labelEncServerToClient = 'D'
	labelMACClientToServer = 'E'
	labelMACServerToClient = 'F'
)

// Keys holds the six derived keystreams for one key-exchange round.
type Keys struct {
	IVClientToServer  []byte
	IVServerToClient  []byte
	EncClientToServer []byte
	EncServerToClient []byte
	MACClientToServer []byte
	MACServerToClient []byte
}

// Derive computes all six keystreams from the shared secret K and exchange
// hash H, using sessionID as the fixed session identifier (the first
// exchange's H — invariant: unchanged across rekeys). ivLen/encLen/macLen
// give each keystream's required byte length for the negotiated algorithms.
func Derive(K *big.Int, H, sessionID []byte, ivLen, encLen, macLen int) (*Keys, error) {
	kEnc, err := mpint.EncodeSSH2(K)
	if err != nil {
		return nil, err
	}
	return &Keys{
		IVClientToServer:  expand(kEnc, H, labelIVClientToServer, sessionID, ivLen),
		IVServerToClient:  expand(kEnc, H, labelIVServerToClient, sessionID, ivLen),
		EncClientToServer: expand(kEnc, H, labelEncClientToServer, sessionID, encLen),
		EncServerToClient: expand(kEnc, H, labelEncServerToClient, sessionID, encLen),
		MACClientToServer: expand(kEnc, H, labelMACClientToServer, sessionID, macLen),
		MACServerToClient: expand(kEnc, H, labelMACServerToClient, sessionID, macLen),
	}, nil
}

// expand implements the SHA-1 extension: the first block is
// SHA1(K||H||label||session_id); each subsequent block is
// SHA1(K||H||everything generated so far), appended until length bytes are
// available. This caps effective entropy per direction at 160 bits
// regardless of the requested length.
func expand(kEnc, H []byte, label byte, sessionID []byte, length int) []byte {
	if length <= 0 {
		return nil
	}
	h := sha1.New()
	h.Write(kEnc)
	h.Write(H)
	h.Write([]byte{label})
	h.Write(sessionID)
	out := h.Sum(nil)

	for len(out) < length {
		h := sha1.New()
		h.Write(kEnc)
		h.Write(H)
		h.Write(out)
		out = append(out, h.Sum(nil)...)
	}
	return out[:length]
}
