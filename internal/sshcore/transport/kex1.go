package transport

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/keys"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
)

// ssh1RSAKey is one of the two keys advertised in SSH1SMsgPublicKey: the
// long-lived host key and the short-lived, periodically regenerated
// server key.
type ssh1RSAKey struct {
	bits int
	pub  *rsa.PublicKey
	nRaw []byte // modulus bytes, as used by the session-id hash
}

func readSSH1RSAKey(r *packet.Reader) (*ssh1RSAKey, error) {
	bits, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	e, err := r.MpintSSH1()
	if err != nil {
		return nil, err
	}
	n, err := r.MpintSSH1()
	if err != nil {
		return nil, err
	}
	if e.BitLen() > 32 {
		return nil, fmt.Errorf("transport: ssh1 rsa exponent implausibly large")
	}
	return &ssh1RSAKey{bits: int(bits), pub: &rsa.PublicKey{N: n, E: int(e.Int64())}, nRaw: n.Bytes()}, nil
}

// runKexSSH1 performs the SSH-1 RSA session key exchange
// "SSH-1 session key exchange").
func (c *Client) runKexSSH1() error {
	pkt, err := c.ReadPacket()
	if err != nil {
		return fmt.Errorf("transport: read public_key: %w", err)
	}
	if pkt.Type != proto.SSH1SMsgPublicKey {
		return fmt.Errorf("transport: expected PUBLIC_KEY, got message %d", pkt.Type)
	}

	r := packet.NewReader(pkt.Payload)
	var cookie [8]byte
	for i := range cookie {
		b, err := r.Byte()
		if err != nil {
			return err
		}
		cookie[i] = b
	}
	serverKey, err := readSSH1RSAKey(r)
	if err != nil {
		return fmt.Errorf("transport: read server_key: %w", err)
	}
	hostKey, err := readSSH1RSAKey(r)
	if err != nil {
		return fmt.Errorf("transport: read host_key: %w", err)
	}
	_, err = r.Uint32() // protocol_flags, unused by the client
	if err != nil {
		return err
	}
	cipherMask, err := r.Uint32()
	if err != nil {
		return err
	}
	if _, err := r.Uint32(); err != nil { // supported_authentications, read by auth layer separately
		return err
	}

	sessionID := keys.SessionIDSSH1(hostKey.nRaw, serverKey.nRaw, cookie[:])
	sessionKey, err := keys.GenerateSessionKeySSH1(sessionID)
	if err != nil {
		return err
	}

	// RSA-encrypt with the smaller key inside the larger.
	inner, outer := serverKey, hostKey
	if hostKey.bits < serverKey.bits {
		inner, outer = hostKey, serverKey
	}
	stage1, err := rsa.EncryptPKCS1v15(rand.Reader, inner.pub, sessionKey)
	if err != nil {
		return fmt.Errorf("transport: inner rsa encrypt: %w", err)
	}
	stage2, err := rsa.EncryptPKCS1v15(rand.Reader, outer.pub, stage1)
	if err != nil {
		return fmt.Errorf("transport: outer rsa encrypt: %w", err)
	}

	cipherType, ok := pickSSH1Cipher(cipherMask)
	if !ok {
		return fmt.Errorf("transport: no ssh1 cipher in common (mask %#x)", cipherMask)
	}

	b := packet.NewRawBuilder()
	b.Byte(cipherType)
	b.Raw(cookie[:])
	b.MpintSSH1(new(big.Int).SetBytes(stage2))
	b.Uint32(0) // protocol_flags
	if err := c.SendPacket(proto.SSH1CMsgSessionKey, b.Bytes()); err != nil {
		return fmt.Errorf("transport: send session_key: %w", err)
	}

	reply, err := c.ReadPacket()
	if err != nil {
		return fmt.Errorf("transport: read session_key reply: %w", err)
	}
	if reply.Type != proto.SSH1SMsgSuccess {
		return fmt.Errorf("transport: server rejected session key (message %d)", reply.Type)
	}

	alg, ok := algorithms.FindSSH1Cipher(cipherType)
	if !ok {
		return fmt.Errorf("transport: unregistered ssh1 cipher type %d", cipherType)
	}
	enc, err := alg.New(sessionKey, true)
	if err != nil {
		return err
	}
	dec, err := alg.New(sessionKey, false)
	if err != nil {
		return err
	}
	c.Framer1.SetEncrypt(enc)
	c.Framer1.SetDecrypt(dec)
	c.SessionID = sessionID[:]

	if c.HostCache != nil && c.HostCallback != nil {
		blob := rsaBlobSSH1(hostKey)
		fp := fingerprintSSH1(hostKey)
		if err := c.HostCache.Verify(c.Host, c.Port, "ssh-rsa1", blob, fp, c.HostCallback); err != nil {
			return err
		}
	}
	return nil
}

// pickSSH1Cipher returns the highest-preference cipher whose bit is set in
// mask, per the legacy SSH-1 preference order (3des, then blowfish; "none"
// is never auto-selected).
func pickSSH1Cipher(mask uint32) (byte, bool) {
	for _, name := range []string{"3des", "blowfish"} {
		alg, ok := algorithms.SSH1CipherByName(name)
		if ok && mask&(1<<alg.Type) != 0 {
			return alg.Type, true
		}
	}
	return 0, false
}

func rsaBlobSSH1(k *ssh1RSAKey) []byte {
	b := packet.NewRawBuilder()
	b.Uint32(uint32(k.bits))
	b.MpintSSH1(big.NewInt(int64(k.pub.E)))
	b.Raw(k.nRaw)
	return b.Bytes()
}

func fingerprintSSH1(k *ssh1RSAKey) string {
	h := md5.Sum(rsaBlobSSH1(k))
	out := make([]byte, 0, len(h)*3)
	for i, b := range h {
		if i > 0 {
			out = append(out, ':')
		}
		const hex = "0123456789abcdef"
		out = append(out, hex[b>>4], hex[b&0xf])
	}
	return string(out)
}
