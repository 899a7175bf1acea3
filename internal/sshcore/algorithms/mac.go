package algorithms

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"hash"
)

// MACAlg is one entry of the SSH-2 MAC registry: keyed HMAC over
// (sequence || packet bytes), generated and verified per direction.
type MACAlg struct {
	Name string
	Len  int
	New  func(key []byte) hash.Hash
}

var MACRegistry = []MACAlg{
	{Name: "hmac-sha1", Len: 20, New: func(key []byte) hash.Hash { return hmac.New(sha1.New, key) }},
	{Name: "hmac-md5", Len: 16, New: func(key []byte) hash.Hash { return hmac.New(md5.New, key) }},
	{Name: "hmac-sha1-96", Len: 12, New: func(key []byte) hash.Hash { return hmac.New(sha1.New, key) }},
	{Name: "hmac-md5-96", Len: 12, New: func(key []byte) hash.Hash { return hmac.New(md5.New, key) }},
}

// buggyMACNames lists the truncated MACs that IsBuggyVariant reports as
// affected by the ssh2_hmac_bug quirk. No alternative MAC computation is
// registered for them: FindMAC and NewMAC return the standard algorithm
// whether or not the quirk was detected.
var buggyMACNames = map[string]bool{
	"hmac-sha1-96": true,
	"hmac-md5-96":  true,
}

// MAC is a keyed per-direction MAC instance.
type MAC struct {
	alg  MACAlg
	h    func(key []byte) hash.Hash
	key  []byte
}

// NewMAC constructs a MAC instance for alg. The buggy argument does not
// change the instance: it always computes the standard HMAC.
func NewMAC(alg MACAlg, key []byte, buggy bool) *MAC {
	return &MAC{alg: alg, h: alg.New, key: key}
}

// Len returns the MAC's output length in bytes.
func (m *MAC) Len() int { return m.alg.Len }

// Generate computes the MAC over (seq || payload) and returns alg.Len bytes.
func (m *MAC) Generate(seq uint32, payload []byte) []byte {
	h := m.h(m.key)
	var seqBuf [4]byte
	binary.BigEndian.PutUint32(seqBuf[:], seq)
	h.Write(seqBuf[:])
	h.Write(payload)
	sum := h.Sum(nil)
	return sum[:m.alg.Len]
}

// Verify reports whether mac is the correct MAC for (seq, payload).
func (m *MAC) Verify(seq uint32, payload, mac []byte) bool {
	want := m.Generate(seq, payload)
	if len(want) != len(mac) {
		return false
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ mac[i]
	}
	return diff == 0
}

// FindMAC looks up a registered MAC by name in MACRegistry. The hmacBug
// argument does not change the lookup; no buggy-variant list is substituted.
func FindMAC(name string, hmacBug bool) (MACAlg, bool) {
	for _, m := range MACRegistry {
		if m.Name == name {
			return m, true
		}
	}
	return MACAlg{}, false
}

// IsBuggyVariant reports whether name is one of the truncated MACs affected
// by the ssh2_hmac_bug quirk.
func IsBuggyVariant(name string) bool { return buggyMACNames[name] }
