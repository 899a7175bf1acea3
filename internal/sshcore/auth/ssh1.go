package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

// SSH1Config extends Config with the SSH-1-specific identities: the legacy
// agent protocol and raw RSA private keys (no blob wrapper, unlike SSH-2).
type SSH1Config struct {
	Config
	AgentSSH1 *SSH1Agent
	LocalRSA  []*rsa.PrivateKey
}

// AuthenticateSSH1 drives the legacy SSH-1 login sequence.
func AuthenticateSSH1(c *transport.Client, cfg SSH1Config) error {
	if err := c.SendPacket(proto.SSH1CMsgUser, packet.NewRawBuilder().Str(cfg.Username).Bytes()); err != nil {
		return fmt.Errorf("auth: send user: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return fmt.Errorf("auth: read user reply: %w", err)
	}
	if pkt.Type == proto.SSH1SMsgSuccess {
		return nil
	}
	if pkt.Type != proto.SSH1SMsgFailure {
		return fmt.Errorf("auth: unexpected message %d after CMSG_USER", pkt.Type)
	}

	var sessionID [16]byte
	copy(sessionID[:], c.SessionID)

	if cfg.AgentSSH1 != nil {
		keys, err := cfg.AgentSSH1.Identities()
		if err == nil {
			for _, key := range keys {
				ok, err := trySSH1AgentKey(c, cfg.AgentSSH1, key, sessionID)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}
		}
	}

	for _, priv := range cfg.LocalRSA {
		ok, err := trySSH1LocalKey(c, priv, sessionID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	if cfg.TISPrompt != nil {
		ok, err := trySSH1TIS(c, cfg.TISPrompt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		ok, err = trySSH1CryptoCard(c, cfg.TISPrompt)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	if cfg.Password == nil {
		return errNoMoreMethods
	}
	password, ok := cfg.Password("Password: ")
	if !ok {
		return errNoMoreMethods
	}
	if err := sendSSH1Password(c, password, cfg.ChokesOnSSH1Ignore); err != nil {
		return err
	}
	reply, err := c.ReadPacket()
	if err != nil {
		return fmt.Errorf("auth: read password reply: %w", err)
	}
	if reply.Type != proto.SSH1SMsgSuccess {
		return fmt.Errorf("auth: password rejected")
	}
	return nil
}

func trySSH1AgentKey(c *transport.Client, a *SSH1Agent, key SSH1AgentKey, sessionID [16]byte) (bool, error) {
	b := packet.NewRawBuilder()
	b.MpintSSH1(key.Pub.N)
	if err := c.SendPacket(proto.SSH1CMsgAuthRSA, b.Bytes()); err != nil {
		return false, fmt.Errorf("auth: send auth_rsa: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_rsa reply: %w", err)
	}
	if pkt.Type == proto.SSH1SMsgFailure {
		return false, nil
	}
	if pkt.Type != proto.SSH1SMsgAuthRSAChallenge {
		return false, fmt.Errorf("auth: unexpected message %d after CMSG_AUTH_RSA", pkt.Type)
	}
	r := packet.NewReader(pkt.Payload)
	challenge, err := r.MpintSSH1()
	if err != nil {
		return false, err
	}
	resp, err := a.Respond(key, challenge, sessionID)
	if err != nil {
		return false, nil // agent declined this key; move on
	}
	if err := c.SendPacket(proto.SSH1CMsgAuthRSAResponse, resp[:]); err != nil {
		return false, fmt.Errorf("auth: send auth_rsa_response: %w", err)
	}
	result, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_rsa_response reply: %w", err)
	}
	return result.Type == proto.SSH1SMsgSuccess, nil
}

func trySSH1LocalKey(c *transport.Client, priv *rsa.PrivateKey, sessionID [16]byte) (bool, error) {
	b := packet.NewRawBuilder()
	b.MpintSSH1(priv.PublicKey.N)
	if err := c.SendPacket(proto.SSH1CMsgAuthRSA, b.Bytes()); err != nil {
		return false, fmt.Errorf("auth: send auth_rsa: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_rsa reply: %w", err)
	}
	if pkt.Type == proto.SSH1SMsgFailure {
		return false, nil
	}
	if pkt.Type != proto.SSH1SMsgAuthRSAChallenge {
		return false, fmt.Errorf("auth: unexpected message %d after CMSG_AUTH_RSA", pkt.Type)
	}
	r := packet.NewReader(pkt.Payload)
	challenge, err := r.MpintSSH1()
	if err != nil {
		return false, err
	}
	decrypted, err := rsa.DecryptPKCS1v15(rand.Reader, priv, mpintToFixedBytes(challenge, priv))
	if err != nil {
		return false, fmt.Errorf("auth: decrypt rsa challenge: %w", err)
	}
	resp := md5Response(decrypted, sessionID)
	if err := c.SendPacket(proto.SSH1CMsgAuthRSAResponse, resp[:]); err != nil {
		return false, fmt.Errorf("auth: send auth_rsa_response: %w", err)
	}
	result, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_rsa_response reply: %w", err)
	}
	return result.Type == proto.SSH1SMsgSuccess, nil
}

// mpintToFixedBytes renders a challenge mpint as a modulus-sized big-endian
// byte string, the shape rsa.DecryptPKCS1v15 expects its ciphertext in.
func mpintToFixedBytes(n *big.Int, priv *rsa.PrivateKey) []byte {
	size := (priv.PublicKey.N.BitLen() + 7) / 8
	raw := n.Bytes()
	if len(raw) >= size {
		return raw
	}
	out := make([]byte, size)
	copy(out[size-len(raw):], raw)
	return out
}

func trySSH1TIS(c *transport.Client, prompt PasswordPrompter) (bool, error) {
	if err := c.SendPacket(proto.SSH1CMsgAuthTIS, nil); err != nil {
		return false, fmt.Errorf("auth: send auth_tis: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_tis reply: %w", err)
	}
	if pkt.Type == proto.SSH1SMsgFailure {
		return false, nil
	}
	if pkt.Type != proto.SSH1SMsgAuthTISChallenge {
		return false, fmt.Errorf("auth: unexpected message %d after CMSG_AUTH_TIS", pkt.Type)
	}
	r := packet.NewReader(pkt.Payload)
	challenge, err := r.Str()
	if err != nil {
		return false, err
	}
	response, ok := prompt(challenge)
	if !ok {
		return false, nil
	}
	if err := c.SendPacket(proto.SSH1CMsgAuthTISResponse, packet.NewRawBuilder().Str(response).Bytes()); err != nil {
		return false, fmt.Errorf("auth: send auth_tis_response: %w", err)
	}
	result, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_tis_response reply: %w", err)
	}
	return result.Type == proto.SSH1SMsgSuccess, nil
}

// trySSH1CryptoCard drives the CMSG_AUTH_CCARD challenge/response dance,
// the token-card sibling of TIS auth: same shape, separate message
// numbers, tried only after TIS has been offered and declined.
func trySSH1CryptoCard(c *transport.Client, prompt PasswordPrompter) (bool, error) {
	if err := c.SendPacket(proto.SSH1CMsgAuthCCard, nil); err != nil {
		return false, fmt.Errorf("auth: send auth_ccard: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_ccard reply: %w", err)
	}
	if pkt.Type == proto.SSH1SMsgFailure {
		return false, nil
	}
	if pkt.Type != proto.SSH1SMsgAuthCCardChallenge {
		return false, fmt.Errorf("auth: unexpected message %d after CMSG_AUTH_CCARD", pkt.Type)
	}
	r := packet.NewReader(pkt.Payload)
	challenge, err := r.Str()
	if err != nil {
		return false, err
	}
	response, ok := prompt(challenge)
	if !ok {
		return false, nil
	}
	if err := c.SendPacket(proto.SSH1CMsgAuthCCardResponse, packet.NewRawBuilder().Str(response).Bytes()); err != nil {
		return false, fmt.Errorf("auth: send auth_ccard_response: %w", err)
	}
	result, err := c.ReadPacket()
	if err != nil {
		return false, fmt.Errorf("auth: read auth_ccard_response reply: %w", err)
	}
	return result.Type == proto.SSH1SMsgSuccess, nil
}

// sendSSH1Password implements a length-masking countermeasure against
// traffic analysis of password length: a buggy peer gets a single
// fixed-size packet; everyone else gets eight packets spanning one
// 8-byte bucket, exactly one of them real.
func sendSSH1Password(c *transport.Client, password string, chokesOnIgnore bool) error {
	if chokesOnIgnore {
		target := len(password) + 1
		if target < 64 {
			target = 64
		}
		padded := make([]byte, target)
		copy(padded, password)
		padded[len(password)] = 0
		if _, err := rand.Read(padded[len(password)+1:]); err != nil {
			return fmt.Errorf("auth: pad password: %w", err)
		}
		return c.SendPacket(proto.SSH1CMsgAuthPassword, packet.NewRawBuilder().Str(string(padded)).Bytes())
	}

	base := (len(password) / 8) * 8
	real := len(password) % 8
	for i := 0; i < 8; i++ {
		if i == real {
			if err := c.SendPacket(proto.SSH1CMsgAuthPassword, packet.NewRawBuilder().Str(password).Bytes()); err != nil {
				return fmt.Errorf("auth: send auth_password: %w", err)
			}
			continue
		}
		dummy := make([]byte, base+i)
		if _, err := rand.Read(dummy); err != nil {
			return fmt.Errorf("auth: generate dummy password padding: %w", err)
		}
		if err := c.SendPacket(proto.SSH1MsgIgnore, packet.NewRawBuilder().String(dummy).Bytes()); err != nil {
			return fmt.Errorf("auth: send ignore: %w", err)
		}
	}
	return nil
}
