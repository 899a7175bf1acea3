// Package terminal provides WebSocket-based terminal (PTY) support.
//
// LocalSession bridges a local bash PTY with a WebSocket; it is what the
// CLI's ws-bridge mode (sshc serve) opens for each connection. SSHConnector
// bridges a remote PTY the same way but is not used by the CLI.
package terminal

import (
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

// LocalSession is a PTY-backed local bash session bridged with a WebSocket.
type LocalSession struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewLocalSession creates a local bash PTY session and bridges it with a
// WebSocket. id is the session's registry key (see Register): every
// WebSocket→PTY message touches it, and the pump unregisters it on
// disconnect, so the idle janitor tracks real traffic instead of only the
// moment the session opened.
func NewLocalSession(id string, conn *websocket.Conn) (*LocalSession, error) {
	cmd := exec.Command("bash")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	s := &LocalSession{
		id:   id,
		cmd:  cmd,
		ptmx: ptmx,
		conn: conn,
	}

	// PTY → WebSocket
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if err != nil {
				break
			}
			s.mu.Lock()
			_ = conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.mu.Unlock()
		}
	}()

	// WebSocket → PTY
	go func() {
		defer Unregister(id)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			Touch(id)
			_, _ = ptmx.Write(msg)
		}
	}()

	return s, nil
}

// Close terminates the local session and its subprocess.
func (s *LocalSession) Close() error {
	_ = s.conn.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	_ = s.cmd.Wait()
	return err
}

// Resize changes the PTY window size.
func (s *LocalSession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// ensure io interface
var _ io.Closer = (*LocalSession)(nil)
