package auth

import (
	"crypto/rand"
	"fmt"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

const userauthService = "ssh-connection"

// AuthenticateSSH2 drives the SSH-2 login sequence.
func AuthenticateSSH2(c *transport.Client, cfg Config) error {
	if err := requestUserauthService(c); err != nil {
		return err
	}
	return authLoopSSH2(c, cfg)
}

// authLoopSSH2 runs the none-probe + method loop. A full password failure
// (partial_success=false) restarts here rather than re-requesting the
// ssh-userauth service, which stays accepted for the life of the
// connection once granted.
func authLoopSSH2(c *transport.Client, cfg Config) error {
	methods, done, err := probeNone(c, cfg.Username)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	triedAgent := false
	triedLocal := make([]bool, len(cfg.LocalKeys))

	for {
		if len(methods) == 0 {
			return errNoMoreMethods
		}

		switch {
		case cfg.Agent != nil && !triedAgent && contains(methods, "publickey"):
			triedAgent = true
			ok, _, next, err := tryAgentKeys(c, cfg)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if next != nil {
				methods = next
			}

		case hasUntried(cfg.LocalKeys, triedLocal) && contains(methods, "publickey"):
			idx := firstUntried(triedLocal)
			triedLocal[idx] = true
			ok, _, next, err := tryLocalKey(c, cfg, cfg.LocalKeys[idx])
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if next != nil {
				methods = next
			}

		case contains(methods, "password") && cfg.Password != nil:
			password, ok := cfg.Password("Password: ")
			if !ok {
				return errNoMoreMethods
			}
			ok, partial, next, err := tryPassword(c, cfg.Username, password)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			if !partial {
				// Restart from the none probe, with the same configured
				// username, after a full (non-partial) password failure;
				// there is no username prompt.
				return authLoopSSH2(c, cfg)
			}
			methods = next

		default:
			return errNoMoreMethods
		}
	}
}

func requestUserauthService(c *transport.Client) error {
	if err := c.SendPacket(proto.SSH2MsgServiceRequest, packet.NewRawBuilder().Str("ssh-userauth").Bytes()); err != nil {
		return fmt.Errorf("auth: send service_request: %w", err)
	}
	pkt, err := drainBanners(c, nil)
	if err != nil {
		return err
	}
	if pkt.Type != proto.SSH2MsgServiceAccept {
		return fmt.Errorf("auth: expected SERVICE_ACCEPT, got message %d", pkt.Type)
	}
	return nil
}

// drainBanners reads packets until a non-banner message arrives, forwarding
// any USERAUTH_BANNER to banner as untrusted text.
func drainBanners(c *transport.Client, banner BannerHandler) (*packet.Packet, error) {
	for {
		pkt, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}
		if pkt.Type != proto.SSH2MsgUserauthBanner {
			return pkt, nil
		}
		if banner != nil {
			r := packet.NewReader(pkt.Payload)
			text, _ := r.Str()
			banner(text)
		}
	}
}

func probeNone(c *transport.Client, username string) ([]string, bool, error) {
	payload := packet.NewRawBuilder().Str(username).Str(userauthService).Str("none").Bytes()
	if err := c.SendPacket(proto.SSH2MsgUserauthRequest, payload); err != nil {
		return nil, false, fmt.Errorf("auth: send none probe: %w", err)
	}
	pkt, err := c.ReadPacket()
	if err != nil {
		return nil, false, fmt.Errorf("auth: read none probe reply: %w", err)
	}
	if pkt.Type == proto.SSH2MsgUserauthSuccess {
		return nil, true, nil
	}
	if pkt.Type != proto.SSH2MsgUserauthFailure {
		return nil, false, fmt.Errorf("auth: unexpected message %d after none probe", pkt.Type)
	}
	methods, _, err := parseFailure(pkt.Payload)
	return methods, false, err
}

func parseFailure(payload []byte) ([]string, bool, error) {
	r := packet.NewReader(payload)
	methods, err := r.NameList()
	if err != nil {
		return nil, false, err
	}
	partial, err := r.Bool()
	if err != nil {
		return nil, false, err
	}
	return methods, partial, nil
}

func contains(list []string, want string) bool {
	for _, m := range list {
		if m == want {
			return true
		}
	}
	return false
}

func hasUntried(keys []LocalKey, tried []bool) bool {
	for i := range keys {
		if !tried[i] {
			return true
		}
	}
	return false
}

func firstUntried(tried []bool) int {
	for i, t := range tried {
		if !t {
			return i
		}
	}
	return -1
}

// buildSignedRequest constructs the USERAUTH_REQUEST payload for a
// publickey attempt with the signature bit set, and the exact byte string
// that must be signed (session_id prefixed, per RFC 4252).
func buildSignedRequest(sessionID []byte, username, algo string, blob, sig []byte) ([]byte, []byte) {
	signedOver := packet.NewRawBuilder().
		String(sessionID).
		Byte(proto.SSH2MsgUserauthRequest).
		Str(username).Str(userauthService).Str("publickey").
		Bool(true).Str(algo).String(blob).Bytes()

	wire := packet.NewRawBuilder().
		Str(username).Str(userauthService).Str("publickey").
		Bool(true).Str(algo).String(blob).String(sig).Bytes()
	return signedOver, wire
}

func tryAgentKeys(c *transport.Client, cfg Config) (ok, partial bool, methods []string, err error) {
	keys, err := cfg.Agent.Keys()
	if err != nil || len(keys) == 0 {
		return false, false, nil, nil
	}
	for _, key := range keys {
		algo, err := blobKeyType(key.Blob)
		if err != nil {
			continue
		}
		query := packet.NewRawBuilder().
			Str(cfg.Username).Str(userauthService).Str("publickey").
			Bool(false).Str(algo).String(key.Blob).Bytes()
		if err := c.SendPacket(proto.SSH2MsgUserauthRequest, query); err != nil {
			return false, false, nil, fmt.Errorf("auth: send publickey query: %w", err)
		}
		pkt, err := drainBanners(c, cfg.Banner)
		if err != nil {
			return false, false, nil, err
		}
		if pkt.Type != proto.SSH2MsgUserauthPKOK {
			continue
		}

		signedOver, _ := buildSignedRequest(c.SessionID, cfg.Username, algo, key.Blob, nil)
		format, sigBlob, err := cfg.Agent.Sign(key, signedOver)
		if err != nil {
			continue
		}
		sigWire := packet.NewRawBuilder().Str(format).String(sigBlob).Bytes()
		_, wire := buildSignedRequest(c.SessionID, cfg.Username, algo, key.Blob, sigWire)
		if err := c.SendPacket(proto.SSH2MsgUserauthRequest, wire); err != nil {
			return false, false, nil, fmt.Errorf("auth: send signed publickey request: %w", err)
		}
		result, err := drainBanners(c, cfg.Banner)
		if err != nil {
			return false, false, nil, err
		}
		if result.Type == proto.SSH2MsgUserauthSuccess {
			return true, false, nil, nil
		}
		methods, partial, _ = parseFailure(result.Payload)
	}
	return false, partial, methods, nil
}

func tryLocalKey(c *transport.Client, cfg Config, key LocalKey) (ok, partial bool, methods []string, err error) {
	algo := key.HostKey.Type()
	blob := key.HostKey.Blob()
	query := packet.NewRawBuilder().
		Str(cfg.Username).Str(userauthService).Str("publickey").
		Bool(false).Str(algo).String(blob).Bytes()
	if err := c.SendPacket(proto.SSH2MsgUserauthRequest, query); err != nil {
		return false, false, nil, fmt.Errorf("auth: send publickey query: %w", err)
	}
	pkt, err := drainBanners(c, cfg.Banner)
	if err != nil {
		return false, false, nil, err
	}
	if pkt.Type != proto.SSH2MsgUserauthPKOK {
		methods, partial, _ = parseFailure(pkt.Payload)
		return false, partial, methods, nil
	}

	signedOver, _ := buildSignedRequest(c.SessionID, cfg.Username, algo, blob, nil)
	sigBlob, err := key.HostKey.Sign(signedOver)
	if err != nil {
		return false, false, nil, fmt.Errorf("auth: sign userauth request: %w", err)
	}
	_, wire := buildSignedRequest(c.SessionID, cfg.Username, algo, blob, sigBlob)
	if err := c.SendPacket(proto.SSH2MsgUserauthRequest, wire); err != nil {
		return false, false, nil, fmt.Errorf("auth: send signed publickey request: %w", err)
	}
	result, err := drainBanners(c, cfg.Banner)
	if err != nil {
		return false, false, nil, err
	}
	if result.Type == proto.SSH2MsgUserauthSuccess {
		return true, false, nil, nil
	}
	methods, partial, _ = parseFailure(result.Payload)
	return false, partial, methods, nil
}

// tryPassword sends the password request alongside a same-flush MSG_IGNORE
// whose padding brings the total cleartext to a fixed, block-rounded size,
// masking the password's true length from a passive observer.
func tryPassword(c *transport.Client, username, password string) (ok, partial bool, methods []string, err error) {
	pwPayload := append([]byte{proto.SSH2MsgUserauthRequest},
		packet.NewRawBuilder().Str(username).Str(userauthService).Str("password").
			Bool(false).Str(password).Bytes()...)
	pwRaw, err := c.Framer2.EncodePacket(pwPayload)
	if err != nil {
		return false, false, nil, fmt.Errorf("auth: encode password packet: %w", err)
	}

	bs := c.Framer2.OutBlockSize()
	target := ((256 + bs - 1) / bs) * bs
	const ignoreOverhead = 10 // length + padlen + type + string-length fields, before padding
	padLen := target - len(pwRaw) - ignoreOverhead
	if padLen < 0 {
		padLen = 0
	}
	filler := make([]byte, padLen)
	if _, err := rand.Read(filler); err != nil {
		return false, false, nil, fmt.Errorf("auth: generate ignore filler: %w", err)
	}
	ignorePayload := append([]byte{proto.SSH2MsgIgnore}, packet.NewRawBuilder().String(filler).Bytes()...)
	ignoreRaw, err := c.Framer2.EncodePacket(ignorePayload)
	if err != nil {
		return false, false, nil, fmt.Errorf("auth: encode ignore packet: %w", err)
	}

	if _, err := c.Conn.Write(pwRaw); err != nil {
		return false, false, nil, fmt.Errorf("auth: write password packet: %w", err)
	}
	if _, err := c.Conn.Write(ignoreRaw); err != nil {
		return false, false, nil, fmt.Errorf("auth: write ignore packet: %w", err)
	}

	pkt, err := drainBanners(c, nil)
	if err != nil {
		return false, false, nil, err
	}
	if pkt.Type == proto.SSH2MsgUserauthSuccess {
		return true, false, nil, nil
	}
	methods, partial, err = parseFailure(pkt.Payload)
	return false, partial, methods, err
}

// blobKeyType extracts the leading wire-format string of a public key blob,
// which for every algorithm this module registers doubles as its name.
func blobKeyType(blob []byte) (string, error) {
	r := packet.NewReader(blob)
	return r.Str()
}
