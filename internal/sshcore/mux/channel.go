// Package mux implements the SSH channel multiplexer: channel
// lifecycle (open/confirm/close), SSH-2 flow-control windows, and dispatch
// of incoming CHANNEL_DATA/EXTENDED_DATA/REQUEST/WINDOW_ADJUST traffic to
// the right channel.
package mux

import (
	"fmt"
	"sync"

	"github.com/websoft9/sshcore/internal/bufchain"
)

// Channel is one multiplexed stream over a session's single transport
// connection. SSH-1 has no flow control or independent multiplexing
// concept beyond message-type-specific opens, so the window fields are
// simply left at their zero value and ignored for SSH-1 channels.
type Channel struct {
	mux      *Mux
	LocalID  uint32
	RemoteID uint32
	ChanType string

	mu   sync.Mutex
	cond *sync.Cond

	ourEOF, ourClosed   bool
	peerEOF, peerClosed bool

	remoteWindow    uint32
	remoteMaxPacket uint32
	localWindow     uint32
	localMaxPacket  uint32
	throttled       bool
	pendingCredit   uint32

	outQueue [][]byte
	inBuf    bufchain.Chain
	errBuf   bufchain.Chain

	openDone chan error // closed/sent once when OPEN_CONFIRMATION/FAILURE arrives

	exitStatus    *int
	exitSignaled  string
	requestAcks   chan bool // one slot consumed per want_reply=true request, in order
}

func newChannel(m *Mux, localID uint32, chanType string, initialWindow, maxPacket uint32) *Channel {
	ch := &Channel{
		mux:            m,
		LocalID:        localID,
		ChanType:       chanType,
		localWindow:    initialWindow,
		localMaxPacket: maxPacket,
		openDone:       make(chan error, 1),
		requestAcks:    make(chan bool, 16),
	}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// Write queues p for egress; the mux's pump drains queued data against the
// remote window as credit allows ("Flow control (SSH-2 egress)").
// It never blocks on the network.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.ourClosed {
		c.mu.Unlock()
		return 0, fmt.Errorf("mux: channel %d is closed for writing", c.LocalID)
	}
	cp := append([]byte(nil), p...)
	c.outQueue = append(c.outQueue, cp)
	c.mu.Unlock()
	c.mux.pump(c)
	return len(p), nil
}

// Read blocks until at least one byte of channel data (not extended data)
// is available, the peer has sent EOF, or the channel has closed.
func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.inBuf.Size() == 0 {
		if c.peerEOF || c.peerClosed {
			return 0, fmt.Errorf("mux: channel %d: EOF", c.LocalID)
		}
		c.cond.Wait()
	}
	n := copy(p, c.inBuf.Prefix())
	c.inBuf.Consume(n)
	return n, nil
}

// ReadStderr is the EXTENDED_DATA(stderr) counterpart to Read.
func (c *Channel) ReadStderr(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.errBuf.Size() == 0 {
		if c.peerEOF || c.peerClosed {
			return 0, fmt.Errorf("mux: channel %d: EOF", c.LocalID)
		}
		c.cond.Wait()
	}
	n := copy(p, c.errBuf.Prefix())
	c.errBuf.Consume(n)
	return n, nil
}

// SetThrottled defers WINDOW_ADJUST crediting while true, freezing the
// channel at the socket level until the consumer has made room: a
// throttled channel accumulates the bytes it would have credited in
// pendingCredit instead of crediting window back to the peer.
func (c *Channel) SetThrottled(v bool) {
	c.mu.Lock()
	wasThrottled := c.throttled
	c.throttled = v
	var pending uint32
	if wasThrottled && !v {
		pending = c.pendingCredit
		c.pendingCredit = 0
	}
	c.mu.Unlock()
	if pending > 0 {
		c.mux.sendWindowAdjust(c, pending)
	}
}

// ExitStatus returns the exit-status channel request's value, if any has
// arrived yet.
func (c *Channel) ExitStatus() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitStatus == nil {
		return 0, false
	}
	return *c.exitStatus, true
}

func (c *Channel) deliverData(p []byte) {
	c.mu.Lock()
	c.inBuf.Add(p)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) deliverExtendedData(p []byte) {
	c.mu.Lock()
	c.errBuf.Add(p)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) creditRemoteWindow(n uint32) {
	c.mu.Lock()
	c.remoteWindow += n
	c.mu.Unlock()
}

func (c *Channel) markPeerEOF() {
	c.mu.Lock()
	c.peerEOF = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) markPeerClosed() {
	c.mu.Lock()
	c.peerClosed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// isFullyClosed reports whether both halves are closed, the point at which
// the mux deletes the channel ("Close").
func (c *Channel) isFullyClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ourClosed && c.peerClosed
}
