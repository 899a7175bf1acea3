package auth

import (
	"fmt"
	"net"
	"os"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func parseAgentPublicKey(blob []byte) (cryptossh.PublicKey, error) {
	pub, err := cryptossh.ParsePublicKey(blob)
	if err != nil {
		return nil, fmt.Errorf("auth: parse agent key blob: %w", err)
	}
	return pub, nil
}

// DialSSH2Agent connects to the running ssh-agent named by SSH_AUTH_SOCK
// and wraps it as an Agent for SSH-2 publickey auth.
func DialSSH2Agent() (Agent, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("auth: SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("auth: dial agent: %w", err)
	}
	return &ssh2Agent{client: agent.NewClient(conn), conn: conn}, nil
}

// ssh2Agent adapts golang.org/x/crypto/ssh/agent's ExtendedAgent to the
// Agent interface used by the SSH-2 authenticator.
type ssh2Agent struct {
	client agent.Agent
	conn   net.Conn
}

func (a *ssh2Agent) Keys() ([]AgentKey, error) {
	identities, err := a.client.List()
	if err != nil {
		return nil, fmt.Errorf("auth: list agent identities: %w", err)
	}
	out := make([]AgentKey, 0, len(identities))
	for _, id := range identities {
		out = append(out, AgentKey{Blob: id.Marshal(), Comment: id.Comment})
	}
	return out, nil
}

func (a *ssh2Agent) Sign(key AgentKey, data []byte) (string, []byte, error) {
	pub, err := parseAgentPublicKey(key.Blob)
	if err != nil {
		return "", nil, err
	}
	sig, err := a.client.Sign(pub, data)
	if err != nil {
		return "", nil, fmt.Errorf("auth: agent sign: %w", err)
	}
	return sig.Format, sig.Blob, nil
}

func (a *ssh2Agent) Close() error { return a.conn.Close() }
