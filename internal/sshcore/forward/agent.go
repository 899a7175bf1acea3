package forward

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
)

// AgentDialer opens a connection to the local agent implementation (real
// SSH_AUTH_SOCK by default; tests substitute a fake listener).
type AgentDialer func() (net.Conn, error)

// DialLocalAgent connects to SSH_AUTH_SOCK, the usual source for both
// SSH-2 and legacy SSH-1 agent forwarding.
func DialLocalAgent() (net.Conn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("forward: SSH_AUTH_SOCK not set")
	}
	return net.Dial("unix", sock)
}

// ServeAgent proxies one forwarded agent channel to the local agent
// ("auth-agent@openssh.com": reject if agent forwarding is not
// enabled; else the channel speaks the same agent wire protocol as a
// direct SSH_AUTH_SOCK connection). Messages are re-framed one at a time
// rather than byte-copied, bounding how much unparsed data a single slow
// direction can buffer and matching the length-prefix accumulator already
// used for the legacy SSH-1 agent dial.
func ServeAgent(ch ChannelConn, dial AgentDialer) error {
	conn, err := dial()
	if err != nil {
		return fmt.Errorf("forward: dial local agent: %w", err)
	}
	defer conn.Close()
	defer ch.Close()

	errCh := make(chan error, 2)
	go func() { errCh <- pumpFrames(ch, conn) }()
	go func() { errCh <- pumpFrames(conn, ch) }()
	return <-errCh
}

// pumpFrames repeatedly reads one 4-byte-length-prefixed agent message
// from src and writes it whole to dst, until either side errors or
// closes.
func pumpFrames(src io.Reader, dst io.Writer) error {
	for {
		frame, err := readAgentFrame(src)
		if err != nil {
			return err
		}
		if _, err := dst.Write(frame); err != nil {
			return err
		}
	}
}

// readAgentFrame reads one complete [4-byte BE length][payload] agent
// message, the framing shared by the SSH-2 agent protocol and the legacy
// SSH-1 agent protocol this package's sibling (auth.SSH1Agent) speaks.
func readAgentFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	frame := make([]byte, 4+len(payload))
	copy(frame, lenBuf[:])
	copy(frame[4:], payload)
	return frame, nil
}
