package algorithms

import (
	"crypto"
	"crypto/dsa"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math/big"
)

// HostKeyAlg is one entry of the host-key registry. A HostKey value
// wraps a parsed public (and, for signing, private) key blob.
type HostKeyAlg struct {
	Name string

	// NewFromBlob parses a wire-format public key blob ("ssh-rsa" / "ssh-dss"
	// encoding: string keytype followed by algorithm-specific fields).
	NewFromBlob func(blob []byte) (HostKey, error)
}

// HostKey is a parsed host or user public key, optionally carrying the
// private half for signing.
type HostKey interface {
	Type() string
	Blob() []byte
	Fingerprint() string
	VerifySig(data, sig []byte) error
	// Sign requires the private key to have been attached; returns the
	// SSH-2 signature blob: the algorithm name as a string followed by the
	// raw signature as a string, the same shape VerifySig accepts.
	Sign(data []byte) ([]byte, error)
}

var HostKeyRegistry = []HostKeyAlg{
	{Name: "ssh-rsa", NewFromBlob: newRSAHostKey},
	{Name: "ssh-dss", NewFromBlob: newDSAHostKey},
}

// FindHostKeyAlg looks up a registered host-key algorithm by name.
func FindHostKeyAlg(name string) (HostKeyAlg, bool) {
	for _, h := range HostKeyRegistry {
		if h.Name == name {
			return h, true
		}
	}
	return HostKeyAlg{}, false
}

// --- RSA ---

type rsaHostKey struct {
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
	blob []byte
}

func newRSAHostKey(blob []byte) (HostKey, error) {
	r := wireReader{buf: blob}
	keytype, err := r.string()
	if err != nil {
		return nil, err
	}
	if keytype != "ssh-rsa" {
		return nil, fmt.Errorf("algorithms: expected ssh-rsa blob, got %q", keytype)
	}
	e, err := r.mpint()
	if err != nil {
		return nil, err
	}
	n, err := r.mpint()
	if err != nil {
		return nil, err
	}
	return &rsaHostKey{pub: &rsa.PublicKey{E: int(e.Int64()), N: n}, blob: blob}, nil
}

// NewRSAHostKeyFromPrivate wraps an *rsa.PrivateKey for signing, building
// the public blob from it.
func NewRSAHostKeyFromPrivate(priv *rsa.PrivateKey) HostKey {
	blob := rsaPublicBlob(&priv.PublicKey)
	return &rsaHostKey{pub: &priv.PublicKey, priv: priv, blob: blob}
}

func rsaPublicBlob(pub *rsa.PublicKey) []byte {
	var w wireWriter
	w.string("ssh-rsa")
	w.mpint(big.NewInt(int64(pub.E)))
	w.mpint(pub.N)
	return w.Bytes()
}

func (k *rsaHostKey) Type() string      { return "ssh-rsa" }
func (k *rsaHostKey) Blob() []byte      { return k.blob }
func (k *rsaHostKey) Fingerprint() string { return fingerprintMD5(k.blob) }

func (k *rsaHostKey) VerifySig(data, sig []byte) error {
	r := wireReader{buf: sig}
	algName, err := r.string()
	if err != nil {
		return err
	}
	if algName != "ssh-rsa" {
		return fmt.Errorf("algorithms: signature algorithm mismatch: %q", algName)
	}
	raw, err := r.bytes()
	if err != nil {
		return err
	}
	h := sha1.Sum(data)
	return rsa.VerifyPKCS1v15(k.pub, crypto.SHA1, h[:], raw)
}

func (k *rsaHostKey) Sign(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, fmt.Errorf("algorithms: no private key attached for signing")
	}
	h := sha1.Sum(data)
	raw, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA1, h[:])
	if err != nil {
		return nil, err
	}
	var w wireWriter
	w.string("ssh-rsa")
	w.bytes(raw)
	return w.Bytes(), nil
}

// --- DSA ---

type dsaHostKey struct {
	pub  *dsa.PublicKey
	priv *dsa.PrivateKey
	blob []byte
}

func newDSAHostKey(blob []byte) (HostKey, error) {
	r := wireReader{buf: blob}
	keytype, err := r.string()
	if err != nil {
		return nil, err
	}
	if keytype != "ssh-dss" {
		return nil, fmt.Errorf("algorithms: expected ssh-dss blob, got %q", keytype)
	}
	p, err := r.mpint()
	if err != nil {
		return nil, err
	}
	q, err := r.mpint()
	if err != nil {
		return nil, err
	}
	g, err := r.mpint()
	if err != nil {
		return nil, err
	}
	y, err := r.mpint()
	if err != nil {
		return nil, err
	}
	pub := &dsa.PublicKey{Parameters: dsa.Parameters{P: p, Q: q, G: g}, Y: y}
	return &dsaHostKey{pub: pub, blob: blob}, nil
}

func (k *dsaHostKey) Type() string        { return "ssh-dss" }
func (k *dsaHostKey) Blob() []byte        { return k.blob }
func (k *dsaHostKey) Fingerprint() string { return fingerprintMD5(k.blob) }

func (k *dsaHostKey) VerifySig(data, sig []byte) error {
	r := wireReader{buf: sig}
	algName, err := r.string()
	if err != nil {
		return err
	}
	if algName != "ssh-dss" {
		return fmt.Errorf("algorithms: signature algorithm mismatch: %q", algName)
	}
	raw, err := r.bytes()
	if err != nil {
		return err
	}
	if len(raw) != 40 {
		return fmt.Errorf("algorithms: ssh-dss signature must be 40 bytes, got %d", len(raw))
	}
	rr := new(big.Int).SetBytes(raw[:20])
	s := new(big.Int).SetBytes(raw[20:])
	h := sha1.Sum(data)
	if !dsa.Verify(k.pub, h[:], rr, s) {
		return fmt.Errorf("algorithms: dsa signature verification failed")
	}
	return nil
}

func (k *dsaHostKey) Sign(data []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, fmt.Errorf("algorithms: no private key attached for signing")
	}
	h := sha1.Sum(data)
	r, s, err := dsa.Sign(rand.Reader, k.priv, h[:])
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 40)
	r.FillBytes(raw[:20])
	s.FillBytes(raw[20:])
	var w wireWriter
	w.string("ssh-dss")
	w.bytes(raw)
	return w.Bytes(), nil
}

func fingerprintMD5(blob []byte) string {
	h := md5.Sum(blob)
	out := make([]byte, 0, len(h)*3)
	for i, b := range h {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hexDigit(b>>4), hexDigit(b&0xf))
	}
	return string(out)
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'a' + b - 10
}

// --- minimal wire helpers shared by the host-key blob codecs ---

type wireReader struct {
	buf []byte
	pos int
}

func (r *wireReader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *wireReader) bytes() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, fmt.Errorf("algorithms: truncated wire string")
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("algorithms: truncated wire string body")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *wireReader) mpint() (*big.Int, error) {
	b, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

type wireWriter struct {
	buf []byte
}

func (w *wireWriter) string(s string) { w.bytes([]byte(s)) }

func (w *wireWriter) bytes(b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	w.buf = append(w.buf, l[:]...)
	w.buf = append(w.buf, b...)
}

func (w *wireWriter) mpint(n *big.Int) {
	raw := n.Bytes()
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		raw = append([]byte{0}, raw...)
	}
	w.bytes(raw)
}

func (w *wireWriter) Bytes() []byte { return w.buf }
