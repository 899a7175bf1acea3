package auth

import (
	"crypto/md5"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
)

// The legacy SSH-1 agent sub-protocol (RSA identities only) predates
// golang.org/x/crypto/ssh/agent, which never implemented it; ssh-agent
// still answers these message numbers on the same SSH_AUTH_SOCK alongside
// the SSH-2 protocol, so this talks to it directly.
const (
	ssh1AgentRequestRSAIdentities = 1
	ssh1AgentRSAIdentitiesAnswer  = 2
	ssh1AgentRSAChallenge         = 3
	ssh1AgentRSAResponse          = 4
	ssh1AgentFailure              = 5
)

// SSH1AgentKey is one RSA identity the agent offers for the legacy
// challenge/response dance .
type SSH1AgentKey struct {
	Bits    int
	Pub     *rsa.PublicKey
	Comment string
}

// SSH1Agent is a connection to ssh-agent speaking the legacy protocol.
type SSH1Agent struct {
	conn net.Conn
}

// DialSSH1Agent connects to SSH_AUTH_SOCK for legacy RSA challenge/response.
func DialSSH1Agent() (*SSH1Agent, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("auth: SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("auth: dial agent: %w", err)
	}
	return &SSH1Agent{conn: conn}, nil
}

func (a *SSH1Agent) Close() error { return a.conn.Close() }

func (a *SSH1Agent) roundTrip(msgType byte, payload []byte) (byte, []byte, error) {
	body := append([]byte{msgType}, payload...)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := a.conn.Write(hdr[:]); err != nil {
		return 0, nil, err
	}
	if _, err := a.conn.Write(body); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(a.conn, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return 0, nil, fmt.Errorf("auth: empty agent reply")
	}
	reply := make([]byte, n)
	if _, err := io.ReadFull(a.conn, reply); err != nil {
		return 0, nil, err
	}
	return reply[0], reply[1:], nil
}

// Identities lists the agent's RSA keys.
func (a *SSH1Agent) Identities() ([]SSH1AgentKey, error) {
	typ, payload, err := a.roundTrip(ssh1AgentRequestRSAIdentities, nil)
	if err != nil {
		return nil, err
	}
	if typ != ssh1AgentRSAIdentitiesAnswer {
		return nil, fmt.Errorf("auth: agent refused ssh-1 identity list")
	}
	r := packet.NewReader(payload)
	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]SSH1AgentKey, 0, count)
	for i := uint32(0); i < count; i++ {
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
		comment, err := r.Str()
		if err != nil {
			return nil, err
		}
		out = append(out, SSH1AgentKey{Bits: int(bits), Pub: &rsa.PublicKey{N: n, E: int(e.Int64())}, Comment: comment})
	}
	return out, nil
}

// Respond asks the agent to decrypt challenge (an RSA-encrypted blob under
// key's public half) and returns MD5(decrypted_challenge || sessionID), the
// 16-byte response CMSG_AUTH_RSA_RESPONSE carries back to the server.
func (a *SSH1Agent) Respond(key SSH1AgentKey, challenge *big.Int, sessionID [16]byte) ([16]byte, error) {
	b := packet.NewRawBuilder()
	b.Uint32(uint32(key.Bits))
	b.MpintSSH1(big.NewInt(int64(key.Pub.E)))
	b.MpintSSH1(key.Pub.N)
	b.MpintSSH1(challenge)
	b.Raw(sessionID[:])
	b.Uint32(1) // response_type: must be 1 (MD5 digest)
	typ, payload, err := a.roundTrip(ssh1AgentRSAChallenge, b.Bytes())
	if err != nil {
		return [16]byte{}, err
	}
	if typ == ssh1AgentFailure {
		return [16]byte{}, fmt.Errorf("auth: agent declined ssh-1 challenge")
	}
	if typ != ssh1AgentRSAResponse || len(payload) != 16 {
		return [16]byte{}, fmt.Errorf("auth: malformed ssh-1 agent response")
	}
	var out [16]byte
	copy(out[:], payload)
	return out, nil
}

// md5Response computes what a local (non-agent) RSA key would answer with,
// given the raw decrypted challenge bytes.
func md5Response(decryptedChallenge []byte, sessionID [16]byte) [16]byte {
	h := md5.New()
	h.Write(decryptedChallenge)
	h.Write(sessionID[:])
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
