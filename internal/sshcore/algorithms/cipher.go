// Package algorithms holds the cipher, MAC, compressor, KEX and host-key
// registries: tables of factories with capability metadata, selected by
// name-intersection negotiation. Actual cryptographic primitives
// come from the standard library plus golang.org/x/crypto's blowfish and
// cast5 packages — stdlib has neither, the way the teacher's cipher needs
// (AES, 3DES) are all that golang.org/x/crypto/ssh itself would otherwise
// supply internally.
package algorithms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"
	"fmt"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
)

// Cipher is a keyed, directional block/stream cipher instance. Encrypt and
// Decrypt operate in place over multiples of BlockSize (stream ciphers
// report BlockSize()==1).
type Cipher interface {
	BlockSize() int
	Encrypt(buf []byte)
	Decrypt(buf []byte)
}

// CipherAlg is one entry of the SSH-2 cipher registry.
type CipherAlg struct {
	Name    string
	KeyLen  int
	IVLen   int
	IsCBC   bool // whether padding must respect a CBC chaining boundary
	New     func(key, iv []byte, encrypt bool) (Cipher, error)
}

type blockCipher struct {
	mode cipher.BlockMode
	bs   int
}

func (b *blockCipher) BlockSize() int { return b.bs }
func (b *blockCipher) Encrypt(buf []byte) {
	b.mode.CryptBlocks(buf, buf)
}
func (b *blockCipher) Decrypt(buf []byte) {
	b.mode.CryptBlocks(buf, buf)
}

func newCBC(newBlock func(key []byte) (cipher.Block, error)) func(key, iv []byte, encrypt bool) (Cipher, error) {
	return func(key, iv []byte, encrypt bool) (Cipher, error) {
		blk, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		var mode cipher.BlockMode
		if encrypt {
			mode = cipher.NewCBCEncrypter(blk, iv)
		} else {
			mode = cipher.NewCBCDecrypter(blk, iv)
		}
		return &blockCipher{mode: mode, bs: blk.BlockSize()}, nil
	}
}

type streamCipher struct {
	s cipher.Stream
}

func (s *streamCipher) BlockSize() int      { return 1 }
func (s *streamCipher) Encrypt(buf []byte) { s.s.XORKeyStream(buf, buf) }
func (s *streamCipher) Decrypt(buf []byte) { s.s.XORKeyStream(buf, buf) }

func newCTR(newBlock func(key []byte) (cipher.Block, error)) func(key, iv []byte, encrypt bool) (Cipher, error) {
	return func(key, iv []byte, encrypt bool) (Cipher, error) {
		blk, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		return &blockCipher{mode: ctrAsBlockMode{cipher.NewCTR(blk, iv), blk.BlockSize()}, bs: blk.BlockSize()}, nil
	}
}

// ctrAsBlockMode adapts a cipher.Stream (CTR mode) to the BlockMode shape so
// blockCipher can treat CTR and CBC uniformly; CTR has no real block
// boundary requirement but SSH still frames it in cipher-block units.
type ctrAsBlockMode struct {
	s  cipher.Stream
	bs int
}

func (c ctrAsBlockMode) BlockSize() int { return c.bs }
func (c ctrAsBlockMode) CryptBlocks(dst, src []byte) {
	c.s.XORKeyStream(dst, src)
}

func newRC4(key, iv []byte, encrypt bool) (Cipher, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &streamCipher{s: c}, nil
}

func tripleDESKey(key []byte) (cipher.Block, error) {
	if len(key) != 24 {
		return nil, fmt.Errorf("algorithms: 3des-cbc requires a 24-byte key, got %d", len(key))
	}
	return des.NewTripleDESCipher(key)
}

func blowfishKey(key []byte) (cipher.Block, error) { return blowfish.NewCipher(key) }
func cast5Key(key []byte) (cipher.Block, error)    { return cast5.NewCipher(key) }

// CipherRegistry is the full SSH-2 cipher table, preference-ordered as
// listed (fallback order; user preference is spliced ahead at negotiation
// time).
var CipherRegistry = []CipherAlg{
	{Name: "aes256-ctr", KeyLen: 32, IVLen: 16, New: newCTR(aes.NewCipher)},
	{Name: "aes192-ctr", KeyLen: 24, IVLen: 16, New: newCTR(aes.NewCipher)},
	{Name: "aes128-ctr", KeyLen: 16, IVLen: 16, New: newCTR(aes.NewCipher)},
	{Name: "aes256-cbc", KeyLen: 32, IVLen: 16, IsCBC: true, New: newCBC(aes.NewCipher)},
	{Name: "aes192-cbc", KeyLen: 24, IVLen: 16, IsCBC: true, New: newCBC(aes.NewCipher)},
	{Name: "aes128-cbc", KeyLen: 16, IVLen: 16, IsCBC: true, New: newCBC(aes.NewCipher)},
	{Name: "blowfish-cbc", KeyLen: 16, IVLen: 8, IsCBC: true, New: newCBC(blowfishKey)},
	{Name: "cast128-cbc", KeyLen: 16, IVLen: 8, IsCBC: true, New: newCBC(cast5Key)},
	{Name: "3des-cbc", KeyLen: 24, IVLen: 8, IsCBC: true, New: newCBC(tripleDESKey)},
	{Name: "arcfour", KeyLen: 16, IVLen: 0, New: newRC4},
}

// FindCipher looks up a registered SSH-2 cipher by name.
func FindCipher(name string) (CipherAlg, bool) {
	for _, c := range CipherRegistry {
		if c.Name == name {
			return c, true
		}
	}
	return CipherAlg{}, false
}

// SSH1Cipher identifies one of the legacy SSH-1 cipher_type values.
// SSH-1 keys the cipher once with a 32-byte session key derived during
// the RSA key exchange; there is no separate IV, CBC chaining starts
// from a zero vector.
type SSH1Cipher struct {
	Name string
	Type byte
	New  func(key []byte, encrypt bool) (Cipher, error)
}

var SSH1CipherRegistry = []SSH1Cipher{
	{Name: "3des", Type: 3, New: func(key []byte, encrypt bool) (Cipher, error) {
		return newCBC(tripleDESKey)(key[:24], make([]byte, 8), encrypt)
	}},
	{Name: "blowfish", Type: 6, New: func(key []byte, encrypt bool) (Cipher, error) {
		return newCBC(blowfishKey)(key[:16], make([]byte, 8), encrypt)
	}},
	{Name: "none", Type: 0, New: func(key []byte, encrypt bool) (Cipher, error) {
		return passthroughCipher{}, nil
	}},
}

type passthroughCipher struct{}

func (passthroughCipher) BlockSize() int    { return 8 }
func (passthroughCipher) Encrypt(buf []byte) {}
func (passthroughCipher) Decrypt(buf []byte) {}

// FindSSH1Cipher looks up a registered SSH-1 cipher by its wire type byte.
func FindSSH1Cipher(cipherType byte) (SSH1Cipher, bool) {
	for _, c := range SSH1CipherRegistry {
		if c.Type == cipherType {
			return c, true
		}
	}
	return SSH1Cipher{}, false
}

// SSH1CipherByName looks up a registered SSH-1 cipher by name.
func SSH1CipherByName(name string) (SSH1Cipher, bool) {
	for _, c := range SSH1CipherRegistry {
		if c.Name == name {
			return c, true
		}
	}
	return SSH1Cipher{}, false
}
