package backend

import (
	"fmt"
	"sync"

	"github.com/websoft9/sshcore/internal/bufchain"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

// ssh1Session drives the one interactive command SSH-1 supports directly
// on the transport connection, with no channel multiplexing layer to
// delegate to. It mirrors mux.Channel's mutex+condition-variable buffering
// so Session can treat it identically to an SSH-2 channel through the
// pipe interface.
type ssh1Session struct {
	c *transport.Client

	mu   sync.Mutex
	cond *sync.Cond

	outBuf    bufchain.Chain
	errBuf    bufchain.Chain
	ourEOF    bool
	peerEOF   bool
	closed    bool
	exitCode  *int

	readErr chan error // set once the background reader goroutine exits
}

func newSSH1Session(c *transport.Client) *ssh1Session {
	s := &ssh1Session{c: c, readErr: make(chan error, 1)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// run is the single background goroutine that reads packets off the wire
// and classifies stdout/stderr/EOF/exit-status traffic into the buffers
// Read/ReadStderr drain. It is started once, right after the pty/shell
// request is sent, and exits when reading a packet fails (for example the
// connection closes) or the peer sends DISCONNECT.
func (s *ssh1Session) run() {
	for {
		pkt, err := s.c.ReadPacket()
		if err != nil {
			s.mu.Lock()
			s.peerEOF = true
			s.closed = true
			s.cond.Broadcast()
			s.mu.Unlock()
			s.readErr <- err
			return
		}
		switch pkt.Type {
		case proto.SSH1SMsgStdoutData:
			r := packet.NewReader(pkt.Payload)
			data, derr := r.String()
			if derr != nil {
				continue
			}
			s.mu.Lock()
			s.outBuf.Add(data)
			s.cond.Broadcast()
			s.mu.Unlock()
		case proto.SSH1SMsgStderrData:
			r := packet.NewReader(pkt.Payload)
			data, derr := r.String()
			if derr != nil {
				continue
			}
			s.mu.Lock()
			s.errBuf.Add(data)
			s.cond.Broadcast()
			s.mu.Unlock()
		case proto.SSH1SMsgExitStatus:
			r := packet.NewReader(pkt.Payload)
			code, derr := r.Uint32()
			if derr == nil {
				s.mu.Lock()
				v := int(code)
				s.exitCode = &v
				s.mu.Unlock()
			}
		case proto.SSH1MsgDisconnect:
			s.mu.Lock()
			s.peerEOF = true
			s.closed = true
			s.cond.Broadcast()
			s.mu.Unlock()
			s.readErr <- fmt.Errorf("backend: ssh1 session: peer closed")
			return
		default:
			// SSH1MsgIgnore/SSH1MsgDebug and anything else: not part of
			// the session data path, drop silently.
		}
	}
}

func (s *ssh1Session) Write(p []byte) (int, error) {
	b := packet.NewRawBuilder().String(p).Bytes()
	if err := s.c.SendPacket(proto.SSH1CMsgStdinData, b); err != nil {
		return 0, fmt.Errorf("backend: ssh1 stdin: %w", err)
	}
	return len(p), nil
}

func (s *ssh1Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.outBuf.Size() == 0 {
		if s.peerEOF || s.closed {
			return 0, fmt.Errorf("backend: ssh1 session: EOF")
		}
		s.cond.Wait()
	}
	n := copy(p, s.outBuf.Prefix())
	s.outBuf.Consume(n)
	return n, nil
}

func (s *ssh1Session) ReadStderr(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.errBuf.Size() == 0 {
		if s.peerEOF || s.closed {
			return 0, fmt.Errorf("backend: ssh1 session: EOF")
		}
		s.cond.Wait()
	}
	n := copy(p, s.errBuf.Prefix())
	s.errBuf.Consume(n)
	return n, nil
}

// Resize sends WINDOW_SIZE. Unlike SSH-2's window-change, SSH-1 puts rows
// before cols; widthPx/heightPx follow the character grid.
func (s *ssh1Session) Resize(cols, rows, widthPx, heightPx uint32) error {
	b := packet.NewRawBuilder().Uint32(rows).Uint32(cols).Uint32(widthPx).Uint32(heightPx).Bytes()
	return s.c.SendPacket(proto.SSH1CMsgWindowSize, b)
}

func (s *ssh1Session) SendEOF() error {
	s.mu.Lock()
	if s.ourEOF {
		s.mu.Unlock()
		return nil
	}
	s.ourEOF = true
	s.mu.Unlock()
	return s.c.SendPacket(proto.SSH1CMsgEOF, nil)
}

func (s *ssh1Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *ssh1Session) ExitStatus() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}
