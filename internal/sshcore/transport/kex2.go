package transport

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"math/big"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/keys"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
)

// gexMinBits, gexPrefBits and gexMaxBits are the group sizes requested from
// the server during diffie-hellman-group-exchange-sha1 (min/n/max per RFC 4419).
const (
	gexMinBits = 1024
	gexPrefBits = 2048
	gexMaxBits = 8192
)

func buildKexInitPayload(p Preferences) ([]byte, error) {
	var cookie [16]byte
	if _, err := rand.Read(cookie[:]); err != nil {
		return nil, fmt.Errorf("transport: kexinit cookie: %w", err)
	}
	b := packet.NewBuilder(proto.SSH2MsgKexInit)
	b.Raw(cookie[:])
	b.NameList(p.Kex)
	b.NameList(p.HostKey)
	b.NameList(p.CipherCS)
	b.NameList(p.CipherSC)
	b.NameList(p.MACCS)
	b.NameList(p.MACSC)
	b.NameList(p.CompressCS)
	b.NameList(p.CompressSC)
	b.NameList(nil) // languages client-to-server
	b.NameList(nil) // languages server-to-client
	b.Bool(false)   // first_kex_packet_follows: we never guess
	b.Uint32(0)     // reserved
	return b.Bytes(), nil
}

type remoteKexInit struct {
	raw                  []byte // full packet payload, type byte included
	kex, hostKey         []string
	cipherCS, cipherSC   []string
	macCS, macSC         []string
	compressCS, compressSC []string
}

func parseKexInit(raw []byte) (*remoteKexInit, error) {
	r := packet.NewReader(raw[1:]) // skip type byte
	if _, err := r.Byte(); err != nil {
		return nil, err // cookie byte 1 of 16
	}
	for i := 1; i < 16; i++ {
		if _, err := r.Byte(); err != nil {
			return nil, err
		}
	}
	ri := &remoteKexInit{raw: raw}
	var err error
	if ri.kex, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.hostKey, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.cipherCS, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.cipherSC, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.macCS, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.macSC, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.compressCS, err = r.NameList(); err != nil {
		return nil, err
	}
	if ri.compressSC, err = r.NameList(); err != nil {
		return nil, err
	}
	return ri, nil
}

func negotiateSSH2(prefs Preferences, remote *remoteKexInit) (*NegotiatedSSH2, error) {
	var n NegotiatedSSH2
	var err error
	if n.Kex, err = pickFirst(prefs.Kex, remote.kex); err != nil {
		return nil, err
	}
	if n.HostKey, err = pickFirst(prefs.HostKey, remote.hostKey); err != nil {
		return nil, err
	}
	if n.CipherCS, err = pickFirst(prefs.CipherCS, remote.cipherCS); err != nil {
		return nil, err
	}
	if n.CipherSC, err = pickFirst(prefs.CipherSC, remote.cipherSC); err != nil {
		return nil, err
	}
	if n.MACCS, err = pickFirst(prefs.MACCS, remote.macCS); err != nil {
		return nil, err
	}
	if n.MACSC, err = pickFirst(prefs.MACSC, remote.macSC); err != nil {
		return nil, err
	}
	if n.CompressCS, err = pickFirst(prefs.CompressCS, remote.compressCS); err != nil {
		return nil, err
	}
	if n.CompressSC, err = pickFirst(prefs.CompressSC, remote.compressSC); err != nil {
		return nil, err
	}
	return &n, nil
}

// runKexSSH2 performs one SSH-2 key exchange: KEXINIT, Diffie-Hellman
// (group1 or group-exchange), host-key verification, NEWKEYS, and
// installs the derived keys on Framer2. first is true only for the
// connection's initial exchange, when SessionID is not yet fixed.
func (c *Client) runKexSSH2(first bool) error {
	return c.runKexSSH2WithRemote(first, nil)
}

// runKexSSH2WithRemote is runKexSSH2, except when pre is non-nil it is used
// as the peer's already-consumed KEXINIT packet instead of reading a fresh
// one. A dispatch loop sitting on top of ReadPacket must pass along the
// KEXINIT it observed mid-session rather than calling Rekey blind, since a
// second ReadPacket call would otherwise hang waiting for a packet the peer
// already sent.
func (c *Client) runKexSSH2WithRemote(first bool, pre *packet.Packet) error {
	localRaw, err := buildKexInitPayload(c.Prefs)
	if err != nil {
		return err
	}
	if err := c.SendPacket(proto.SSH2MsgKexInit, localRaw[1:]); err != nil {
		return fmt.Errorf("transport: send kexinit: %w", err)
	}

	remotePkt := pre
	if remotePkt == nil {
		remotePkt, err = c.ReadPacket()
		if err != nil {
			return fmt.Errorf("transport: read kexinit: %w", err)
		}
	}
	if remotePkt.Type != proto.SSH2MsgKexInit {
		return fmt.Errorf("transport: expected KEXINIT, got message %d", remotePkt.Type)
	}
	remoteRaw := append([]byte{remotePkt.Type}, remotePkt.Payload...)
	remote, err := parseKexInit(remoteRaw)
	if err != nil {
		return fmt.Errorf("transport: parse remote kexinit: %w", err)
	}

	neg, err := negotiateSSH2(c.Prefs, remote)
	if err != nil {
		return fmt.Errorf("transport: negotiate: %w", err)
	}
	c.lastNeg = neg

	kexAlg, _ := algorithms.FindKex(neg.Kex)

	var K *big.Int
	var H [20]byte
	var hostKeyBlob []byte
	var sig []byte

	switch kexAlg.Class {
	case algorithms.KexGroup1:
		K, H, hostKeyBlob, sig, err = c.dhGroup1(localRaw, remoteRaw, algorithms.Group1P, algorithms.Group1Generator)
	case algorithms.KexGroupExchange:
		K, H, hostKeyBlob, sig, err = c.dhGroupExchange(localRaw, remoteRaw)
	default:
		return fmt.Errorf("transport: unsupported kex class")
	}
	if err != nil {
		return err
	}

	hkAlg, ok := algorithms.FindHostKeyAlg(neg.HostKey)
	if !ok {
		return fmt.Errorf("transport: unknown host key algorithm %q", neg.HostKey)
	}
	hostKey, err := hkAlg.NewFromBlob(hostKeyBlob)
	if err != nil {
		return fmt.Errorf("transport: parse host key: %w", err)
	}
	if err := hostKey.VerifySig(H[:], sig); err != nil {
		return fmt.Errorf("transport: host key signature invalid: %w", err)
	}
	if c.HostCache != nil && c.HostCallback != nil {
		if err := c.HostCache.Verify(c.Host, c.Port, neg.HostKey, hostKeyBlob, hostKey.Fingerprint(), c.HostCallback); err != nil {
			return err
		}
	}

	if first {
		c.SessionID = append([]byte(nil), H[:]...)
	}

	cipherCS, _ := algorithms.FindCipher(neg.CipherCS)
	cipherSC, _ := algorithms.FindCipher(neg.CipherSC)
	macCS, _ := algorithms.FindMAC(neg.MACCS, c.Version.Bugs.Has(BugSSH2HMACTruncation))
	macSC, _ := algorithms.FindMAC(neg.MACSC, c.Version.Bugs.Has(BugSSH2HMACTruncation))

	derived, err := keys.Derive(K, H[:], c.SessionID, cipherCS.IVLen, cipherCS.KeyLen, macCS.Len)
	if err != nil {
		return err
	}
	derivedSC, err := keys.Derive(K, H[:], c.SessionID, cipherSC.IVLen, cipherSC.KeyLen, macSC.Len)
	if err != nil {
		return err
	}

	if err := c.SendPacket(proto.SSH2MsgNewKeys, nil); err != nil {
		return fmt.Errorf("transport: send newkeys: %w", err)
	}

	encCipher, err := cipherCS.New(derived.EncClientToServer, derived.IVClientToServer, true)
	if err != nil {
		return err
	}
	c.Framer2.SetEncrypt(encCipher, algorithms.NewMAC(macCS, derived.MACClientToServer, false))
	if compAlg, ok := algorithms.FindCompressor(neg.CompressCS); ok {
		c.Framer2.SetCompressor(compAlg.NewWriter())
	}

	newKeysPkt, err := c.ReadPacket()
	if err != nil {
		return fmt.Errorf("transport: read newkeys: %w", err)
	}
	if newKeysPkt.Type != proto.SSH2MsgNewKeys {
		return fmt.Errorf("transport: expected NEWKEYS, got message %d", newKeysPkt.Type)
	}

	decCipher, err := cipherSC.New(derivedSC.EncServerToClient, derivedSC.IVServerToClient, false)
	if err != nil {
		return err
	}
	c.Framer2.SetDecrypt(decCipher, algorithms.NewMAC(macSC, derivedSC.MACServerToClient, false))
	if compAlg, ok := algorithms.FindCompressor(neg.CompressSC); ok {
		c.Framer2.SetDecompressor(compAlg.NewReader())
	}

	c.WantRekey = false
	return nil
}

// dhGroup1 performs the fixed-group Diffie-Hellman exchange and returns the
// shared secret, exchange hash, host key blob and signature.
func (c *Client) dhGroup1(localKexInit, remoteKexInit []byte, p, g *big.Int) (*big.Int, [20]byte, []byte, []byte, error) {
	x, e, err := dhGenerateEphemeral(p, g)
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	if err := c.SendPacket(proto.SSH2MsgKexDHInit, packet.NewRawBuilder().MpintSSH2(e).Bytes()); err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	reply, err := c.ReadPacket()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	if reply.Type != proto.SSH2MsgKexDHReply {
		return nil, [20]byte{}, nil, nil, fmt.Errorf("transport: expected KEXDH_REPLY, got %d", reply.Type)
	}
	r := packet.NewReader(reply.Payload)
	hostKeyBlob, err := r.String()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	f, err := r.MpintSSH2()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	sig, err := r.String()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	K := new(big.Int).Exp(f, x, p)

	hb := packet.NewRawBuilder()
	hb.Str(c.Version.Local)
	hb.Str(c.Version.Remote)
	hb.String(localKexInit)
	hb.String(remoteKexInit)
	hb.String(hostKeyBlob)
	hb.MpintSSH2(e)
	hb.MpintSSH2(f)
	hb.MpintSSH2(K)
	H := sha1.Sum(hb.Bytes())

	return K, H, hostKeyBlob, append([]byte(nil), sig...), nil
}

// dhGroupExchange performs diffie-hellman-group-exchange-sha1: the server
// proposes a group, then the exchange proceeds exactly like dhGroup1 but
// the exchange hash additionally binds the requested bit-size range and
// the negotiated group (RFC 4419).
func (c *Client) dhGroupExchange(localKexInit, remoteKexInit []byte) (*big.Int, [20]byte, []byte, []byte, error) {
	req := packet.NewRawBuilder().Uint32(gexMinBits).Uint32(gexPrefBits).Uint32(gexMaxBits).Bytes()
	if err := c.SendPacket(proto.SSH2MsgKexDHGexRequest, req); err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	groupPkt, err := c.ReadPacket()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	if groupPkt.Type != proto.SSH2MsgKexDHGexGroup {
		return nil, [20]byte{}, nil, nil, fmt.Errorf("transport: expected KEX_DH_GEX_GROUP, got %d", groupPkt.Type)
	}
	gr := packet.NewReader(groupPkt.Payload)
	p, err := gr.MpintSSH2()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	g, err := gr.MpintSSH2()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	x, e, err := dhGenerateEphemeral(p, g)
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	if err := c.SendPacket(proto.SSH2MsgKexDHGexInit, packet.NewRawBuilder().MpintSSH2(e).Bytes()); err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	reply, err := c.ReadPacket()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	if reply.Type != proto.SSH2MsgKexDHGexReply {
		return nil, [20]byte{}, nil, nil, fmt.Errorf("transport: expected KEX_DH_GEX_REPLY, got %d", reply.Type)
	}
	r := packet.NewReader(reply.Payload)
	hostKeyBlob, err := r.String()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	f, err := r.MpintSSH2()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}
	sig, err := r.String()
	if err != nil {
		return nil, [20]byte{}, nil, nil, err
	}

	K := new(big.Int).Exp(f, x, p)

	hb := packet.NewRawBuilder()
	hb.Str(c.Version.Local)
	hb.Str(c.Version.Remote)
	hb.String(localKexInit)
	hb.String(remoteKexInit)
	hb.String(hostKeyBlob)
	hb.Uint32(gexMinBits)
	hb.Uint32(gexPrefBits)
	hb.Uint32(gexMaxBits)
	hb.MpintSSH2(p)
	hb.MpintSSH2(g)
	hb.MpintSSH2(e)
	hb.MpintSSH2(f)
	hb.MpintSSH2(K)
	H := sha1.Sum(hb.Bytes())

	return K, H, hostKeyBlob, append([]byte(nil), sig...), nil
}

// dhGenerateEphemeral picks a random exponent and computes the
// corresponding public value e = g^x mod p. The exponent is drawn with as
// many bits as p, comfortably exceeding the "~2x effective key strength"
// floor for every group this client negotiates.
func dhGenerateEphemeral(p, g *big.Int) (x, e *big.Int, err error) {
	pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
	x, err = rand.Int(rand.Reader, pMinus1)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: generate dh exponent: %w", err)
	}
	x.Add(x, big.NewInt(1)) // avoid x == 0
	e = new(big.Int).Exp(g, x, p)
	return x, e, nil
}
