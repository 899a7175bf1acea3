// Package auth drives user authentication for both protocol versions,
// sitting directly on top of transport.Client's SendPacket/ReadPacket.
// It owns none of the wire framing or key exchange
// state; it only negotiates which method succeeds and, for publickey,
// delegates signing to either a local key or an agent.
package auth

import (
	"fmt"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
)

// PasswordPrompter asks the user for a password (or a TIS/CryptoCard
// response to an arbitrary challenge string). ok is false if the user
// cancelled, which the caller treats like an empty method list.
type PasswordPrompter func(prompt string) (secret string, ok bool)

// BannerHandler receives USERAUTH_BANNER / SSH-1 debug text as untrusted
// display output, passed through to the user as untrusted output.
type BannerHandler func(text string)

// LocalKey is a parsed private key available for publickey/RSA auth,
// already unlocked (passphrase handling happens before the Authenticator
// is given one — see the Decrypt methods in package keyfile).
type LocalKey struct {
	HostKey algorithms.HostKey // Type()/Blob()/Sign() — reused from the host-key codec
}

// Agent abstracts the running ssh-agent for SSH-2 publickey auth: list the
// keys it holds, and ask it to sign a payload with one of them.
type Agent interface {
	Keys() ([]AgentKey, error)
	// Sign returns the signature blob together with its wire format name
	// ("ssh-rsa", "rsa-sha2-256", ...); the caller wraps it in the
	// string-prefixed signature-blob format itself.
	Sign(key AgentKey, data []byte) (format string, blob []byte, err error)
}

// AgentKey is one identity an Agent offers.
type AgentKey struct {
	Blob    []byte // public key blob, wire format
	Comment string
}

// Config bundles everything an Authenticator needs beyond the transport
// connection itself.
type Config struct {
	Username string

	Agent      Agent      // nil disables agent-based auth
	LocalKeys  []LocalKey // tried in order, before falling back to password
	Password   PasswordPrompter
	TISPrompt  PasswordPrompter // nil disables TIS/CryptoCard
	Banner     BannerHandler
	ChokesOnSSH1Ignore bool
}

var errNoMoreMethods = fmt.Errorf("auth: no more authentication methods available")
