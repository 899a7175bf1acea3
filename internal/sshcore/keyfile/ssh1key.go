// Package keyfile implements the two private-key file formats
// "Private-key file format"): a binary SSH-1 RSA key file with an
// optional passphrase-derived 3DES wrap, and a structured text file for
// SSH-2 keys carrying an algorithm name, a base64 public blob, an
// optional passphrase-wrapped base64 private blob, and a MAC over the
// whole file.
package keyfile

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"io"
	"math/big"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
)

const ssh1KeyMagic = "sshcore-ssh1-rsa-key-v1"

const ssh1CipherTypeNone = byte(0)
const ssh1CipherType3DES = byte(3)

// SSH1KeyFile is a parsed (but possibly still-encrypted) SSH-1 RSA key
// file. Call Decrypt to obtain the usable *rsa.PrivateKey.
type SSH1KeyFile struct {
	Comment   string
	Encrypted bool
	Public    *rsa.PublicKey

	payload []byte // check bytes + mpints, still encrypted iff Encrypted
}

// WriteSSH1Key serializes priv to w. If passphrase is non-empty, the
// private fields are wrapped under a passphrase-derived 3DES-CBC key
// .
func WriteSSH1Key(w io.Writer, priv *rsa.PrivateKey, comment, passphrase string) error {
	if len(priv.Primes) != 2 {
		return fmt.Errorf("keyfile: only two-prime RSA keys are supported")
	}
	priv.Precompute()

	payload := packet.NewRawBuilder()
	var check [2]byte
	if _, err := rand.Read(check[:1]); err != nil {
		return fmt.Errorf("keyfile: generate check bytes: %w", err)
	}
	check[1] = check[0]
	payload.Raw(check[:])
	payload.MpintSSH1(priv.D)
	payload.MpintSSH1(priv.Precomputed.Qinv)
	payload.MpintSSH1(priv.Primes[1]) // q
	payload.MpintSSH1(priv.Primes[0]) // p

	body := payload.Bytes()
	for len(body)%8 != 0 {
		body = append(body, 0)
	}

	cipherType := ssh1CipherTypeNone
	if passphrase != "" {
		cipherType = ssh1CipherType3DES
		if err := ssh1CryptPayload(body, passphrase, true); err != nil {
			return err
		}
	}

	out := packet.NewRawBuilder()
	out.Str(ssh1KeyMagic)
	out.Byte(cipherType)
	out.Str(comment)
	out.MpintSSH1(priv.PublicKey.N)
	out.MpintSSH1(big.NewInt(int64(priv.PublicKey.E)))
	out.Uint32(uint32(len(body)))
	out.Raw(body)

	_, err := w.Write(out.Bytes())
	return err
}

// ReadSSH1Key parses the framing and public half of an SSH-1 key file;
// Decrypt must be called (with the passphrase, or "" if Encrypted is
// false) to recover the private key.
func ReadSSH1Key(r io.Reader) (*SSH1KeyFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("keyfile: read ssh1 key file: %w", err)
	}
	rd := packet.NewReader(raw)

	magic, err := rd.Str()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read magic: %w", err)
	}
	if magic != ssh1KeyMagic {
		return nil, fmt.Errorf("keyfile: not an ssh1 key file (bad magic)")
	}
	cipherType, err := rd.Byte()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read cipher type: %w", err)
	}
	comment, err := rd.Str()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read comment: %w", err)
	}
	n, err := rd.MpintSSH1()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read public modulus: %w", err)
	}
	e, err := rd.MpintSSH1()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read public exponent: %w", err)
	}
	payload, err := rd.String()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read encrypted payload: %w", err)
	}

	return &SSH1KeyFile{
		Comment:   comment,
		Encrypted: cipherType != ssh1CipherTypeNone,
		Public:    &rsa.PublicKey{N: n, E: int(e.Int64())},
		payload:   append([]byte(nil), payload...),
	}, nil
}

// Decrypt recovers the private key, verifying the passphrase via the
// repeated check-byte pair embedded in the payload.
func (k *SSH1KeyFile) Decrypt(passphrase string) (*rsa.PrivateKey, error) {
	body := append([]byte(nil), k.payload...)
	if k.Encrypted {
		if err := ssh1CryptPayload(body, passphrase, false); err != nil {
			return nil, err
		}
	}

	rd := packet.NewReader(body)
	var check [2]byte
	b0, err := rd.Byte()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read check byte: %w", err)
	}
	b1, err := rd.Byte()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read check byte: %w", err)
	}
	check[0], check[1] = b0, b1
	if check[0] != check[1] {
		return nil, fmt.Errorf("keyfile: incorrect passphrase")
	}

	d, err := rd.MpintSSH1()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read private exponent: %w", err)
	}
	_, err = rd.MpintSSH1() // iqmp: recomputed by (*rsa.PrivateKey).Precompute
	if err != nil {
		return nil, fmt.Errorf("keyfile: read iqmp: %w", err)
	}
	q, err := rd.MpintSSH1()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read q: %w", err)
	}
	p, err := rd.MpintSSH1()
	if err != nil {
		return nil, fmt.Errorf("keyfile: read p: %w", err)
	}

	priv := &rsa.PrivateKey{
		PublicKey: *k.Public,
		D:         d,
		Primes:    []*big.Int{p, q},
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("keyfile: incorrect passphrase or corrupt key: %w", err)
	}
	priv.Precompute()
	return priv, nil
}

// ssh1CryptPayload 3DES-CBC encrypts or decrypts buf in place under a
// passphrase-derived key, zero IV ("optional passphrase-derived
// 3DES wrap").
func ssh1CryptPayload(buf []byte, passphrase string, encrypt bool) error {
	if len(buf)%8 != 0 {
		return fmt.Errorf("keyfile: encrypted payload must be a multiple of the 3des block size")
	}
	alg, ok := algorithms.SSH1CipherByName("3des")
	if !ok {
		return fmt.Errorf("keyfile: 3des cipher not registered")
	}
	c, err := alg.New(derivePassphraseKey3DES(passphrase), encrypt)
	if err != nil {
		return fmt.Errorf("keyfile: init 3des: %w", err)
	}
	if encrypt {
		c.Encrypt(buf)
	} else {
		c.Decrypt(buf)
	}
	return nil
}

// derivePassphraseKey3DES derives a 24-byte 3DES key from a passphrase:
// SHA-1(0x00 || passphrase) || SHA-1(0x01 || passphrase), truncated.
func derivePassphraseKey3DES(passphrase string) []byte {
	h0 := sha1.Sum(append([]byte{0}, []byte(passphrase)...))
	h1 := sha1.Sum(append([]byte{1}, []byte(passphrase)...))
	key := append(append([]byte{}, h0[:]...), h1[:]...)
	return key[:24]
}
