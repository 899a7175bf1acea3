package mux

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
)

// SessionInitialWindow and SessionMaxPacket are the conservative defaults
// the main session channel opens with: large enough to keep bulk
// transfer flowing, small enough to bound in-flight data per channel.
const (
	SessionInitialWindow = 0x8000
	SessionMaxPacket     = 0x4000
)

// OpenRequestHandler decides what to do with a remote-initiated
// CHANNEL_OPEN ("Open (remote → local)"). accept=false rejects
// with reason; accept=true lets the mux allocate a local channel and send
// OPEN_CONFIRMATION, after which Mux.OnNewChannel receives the resulting
// *Channel.
type OpenRequestHandler func(chanType string, extra []byte) (accept bool, reason uint32, reasonText string)

// Mux owns one transport connection's channel table and the single
// goroutine that reads from it .
type Mux struct {
	c   *transport.Client
	ids *idAllocator

	mu       sync.Mutex
	channels map[uint32]*Channel
	closed   bool

	OnOpenRequest OpenRequestHandler
	// OnNewChannel is invoked after a remote-initiated channel has been
	// confirmed, so the caller can start consuming it (e.g. plumb an X11
	// or agent forwarder onto it).
	OnNewChannel func(*Channel)

	// OpenRateLimiter throttles remote-initiated CHANNEL_OPEN requests,
	// guarding against a misbehaving or hostile peer opening channels in
	// a tight loop. Nil disables limiting.
	OpenRateLimiter *rate.Limiter
}

// New wraps an already-handshaken transport.Client.
func New(c *transport.Client) *Mux {
	return &Mux{
		c:        c,
		ids:      newIDAllocator(),
		channels: make(map[uint32]*Channel),
	}
}

// OpenSSH2 issues CHANNEL_OPEN and blocks for OPEN_CONFIRMATION/FAILURE
// ("Open (local → remote)").
func (m *Mux) OpenSSH2(chanType string, typeSpecific []byte, initialWindow, maxPacket uint32) (*Channel, error) {
	ch := newChannel(m, m.ids.acquire(), chanType, initialWindow, maxPacket)

	m.mu.Lock()
	m.channels[ch.LocalID] = ch
	m.mu.Unlock()

	b := packet.NewRawBuilder().Str(chanType).Uint32(ch.LocalID).Uint32(initialWindow).Uint32(maxPacket)
	b.Raw(typeSpecific)
	if err := m.c.SendPacket(proto.SSH2MsgChannelOpen, b.Bytes()); err != nil {
		m.forget(ch.LocalID)
		return nil, fmt.Errorf("mux: send channel_open: %w", err)
	}

	if err := <-ch.openDone; err != nil {
		m.forget(ch.LocalID)
		return nil, err
	}
	return ch, nil
}

// OpenSession opens the main interactive-session channel with the
// conservative defaults the protocol prescribes for it.
func (m *Mux) OpenSession() (*Channel, error) {
	return m.OpenSSH2("session", nil, SessionInitialWindow, SessionMaxPacket)
}

func (m *Mux) forget(id uint32) {
	m.mu.Lock()
	delete(m.channels, id)
	m.mu.Unlock()
	m.ids.release(id)
}

func (m *Mux) lookup(id uint32) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Run is the multiplexer's read loop: one goroutine owns ReadPacket for
// the life of the session, dispatching channel traffic and responding to
// a server-initiated rekey: message type 20 arriving outside a
// handshake means "rekey now".
func (m *Mux) Run() error {
	for {
		pkt, err := m.c.ReadPacket()
		if err != nil {
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()
			return err
		}
		if err := m.dispatch(pkt); err != nil {
			return err
		}
	}
}

func (m *Mux) dispatch(pkt *packet.Packet) error {
	switch pkt.Type {
	case proto.SSH2MsgKexInit:
		return m.c.RekeyFromPeer(pkt)
	case proto.SSH2MsgGlobalRequest:
		return m.handleGlobalRequest(pkt)
	case proto.SSH2MsgChannelOpen:
		return m.handleChannelOpen(pkt)
	case proto.SSH2MsgChannelOpenConfirm:
		return m.handleOpenConfirm(pkt)
	case proto.SSH2MsgChannelOpenFailure:
		return m.handleOpenFailure(pkt)
	case proto.SSH2MsgChannelWindowAdjust:
		return m.handleWindowAdjust(pkt)
	case proto.SSH2MsgChannelData:
		return m.handleData(pkt)
	case proto.SSH2MsgChannelExtendedData:
		return m.handleExtendedData(pkt)
	case proto.SSH2MsgChannelEOF:
		return m.handleEOF(pkt)
	case proto.SSH2MsgChannelClose:
		return m.handleClose(pkt)
	case proto.SSH2MsgChannelRequest:
		return m.handleChannelRequest(pkt)
	case proto.SSH2MsgChannelSuccess:
		return m.handleRequestAck(pkt, true)
	case proto.SSH2MsgChannelFailure:
		return m.handleRequestAck(pkt, false)
	case proto.SSH2MsgIgnore, proto.SSH2MsgDebug, proto.SSH2MsgUnimplemented:
		return nil
	default:
		return nil
	}
}

func (m *Mux) handleGlobalRequest(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	_, _ = r.Str() // request name, e.g. "hostkeys-00@openssh.com"
	wantReply, err := r.Bool()
	if err != nil {
		return err
	}
	if !wantReply {
		return nil
	}
	return m.c.SendPacket(proto.SSH2MsgRequestFailure, nil)
}

func (m *Mux) handleChannelOpen(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	chanType, err := r.Str()
	if err != nil {
		return err
	}
	remoteID, err := r.Uint32()
	if err != nil {
		return err
	}
	remoteWindow, err := r.Uint32()
	if err != nil {
		return err
	}
	remoteMaxPacket, err := r.Uint32()
	if err != nil {
		return err
	}
	extra := r.Rest()

	if m.OpenRateLimiter != nil && !m.OpenRateLimiter.Allow() {
		b := packet.NewRawBuilder().Uint32(remoteID).Uint32(uint32(proto.DisconnectTooManyConnections)).Str("channel open rate exceeded").Str("en")
		return m.c.SendPacket(proto.SSH2MsgChannelOpenFailure, b.Bytes())
	}

	accept, reason, reasonText := false, proto.DisconnectNoMoreAuthMethodsAvailable, "unsupported channel type"
	if m.OnOpenRequest != nil {
		accept, reason, reasonText = m.OnOpenRequest(chanType, extra)
	}
	if !accept {
		b := packet.NewRawBuilder().Uint32(remoteID).Uint32(uint32(reason)).Str(reasonText).Str("en")
		return m.c.SendPacket(proto.SSH2MsgChannelOpenFailure, b.Bytes())
	}

	ch := newChannel(m, m.ids.acquire(), chanType, SessionInitialWindow, SessionMaxPacket)
	ch.RemoteID = remoteID
	ch.remoteWindow = remoteWindow
	ch.remoteMaxPacket = remoteMaxPacket
	m.mu.Lock()
	m.channels[ch.LocalID] = ch
	m.mu.Unlock()

	confirm := packet.NewRawBuilder().Uint32(remoteID).Uint32(ch.LocalID).Uint32(ch.localWindow).Uint32(ch.localMaxPacket).Bytes()
	if err := m.c.SendPacket(proto.SSH2MsgChannelOpenConfirm, confirm); err != nil {
		return err
	}
	if m.OnNewChannel != nil {
		m.OnNewChannel(ch)
	}
	return nil
}

func (m *Mux) handleOpenConfirm(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	remoteID, err := r.Uint32()
	if err != nil {
		return err
	}
	remoteWindow, err := r.Uint32()
	if err != nil {
		return err
	}
	remoteMaxPacket, err := r.Uint32()
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.RemoteID = remoteID
	ch.remoteWindow = remoteWindow
	ch.remoteMaxPacket = remoteMaxPacket
	ch.mu.Unlock()
	ch.openDone <- nil
	return nil
}

func (m *Mux) handleOpenFailure(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	reason, _ := r.Uint32()
	text, _ := r.Str()
	ch.openDone <- fmt.Errorf("mux: channel open refused (reason %d): %s", reason, text)
	m.forget(localID)
	return nil
}

func (m *Mux) handleWindowAdjust(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	n, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	ch.creditRemoteWindow(n)
	m.pump(ch)
	return nil
}

func (m *Mux) handleData(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	data, err := r.String()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	ch.deliverData(data)
	return m.creditWindow(ch, uint32(len(data)))
}

func (m *Mux) handleExtendedData(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	dataType, err := r.Uint32()
	if err != nil {
		return err
	}
	data, err := r.String()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	if dataType == proto.ExtendedDataTypeStderr {
		ch.deliverExtendedData(data)
	}
	return m.creditWindow(ch, uint32(len(data)))
}

// creditWindow immediately returns n, the byte count just received, to the
// peer ("Flow control (SSH-2 ingress)"), unless the channel is
// throttled for backpressure, in which case n accumulates in
// ch.pendingCredit and is flushed as one WINDOW_ADJUST by
// SetThrottled(false).
func (m *Mux) creditWindow(ch *Channel, n uint32) error {
	if n == 0 {
		return nil
	}
	ch.mu.Lock()
	if ch.throttled {
		ch.pendingCredit += n
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()
	return m.sendWindowAdjust(ch, n)
}

func (m *Mux) sendWindowAdjust(ch *Channel, n uint32) error {
	b := packet.NewRawBuilder().Uint32(ch.RemoteID).Uint32(n).Bytes()
	return m.c.SendPacket(proto.SSH2MsgChannelWindowAdjust, b)
}

func (m *Mux) handleEOF(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	ch.markPeerEOF()
	return nil
}

func (m *Mux) handleClose(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		return nil
	}
	ch.markPeerClosed()
	if !ch.isFullyClosed() {
		// Peer closed first: answer symmetrically and mark our half too.
		_ = ch.Close()
	}
	m.forget(localID)
	return nil
}

func (m *Mux) handleChannelRequest(pkt *packet.Packet) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	name, err := r.Str()
	if err != nil {
		return err
	}
	wantReply, err := r.Bool()
	if err != nil {
		return err
	}
	ch, ok := m.lookup(localID)
	if !ok {
		if wantReply {
			return m.c.SendPacket(proto.SSH2MsgChannelFailure, packet.NewRawBuilder().Uint32(localID).Bytes())
		}
		return nil
	}
	if name == "exit-status" {
		status, _ := r.Uint32()
		s := int(status)
		ch.mu.Lock()
		ch.exitStatus = &s
		ch.mu.Unlock()
	} else if name == "exit-signal" {
		sig, _ := r.Str()
		ch.mu.Lock()
		ch.exitSignaled = sig
		ch.mu.Unlock()
	}
	if wantReply {
		return m.c.SendPacket(proto.SSH2MsgChannelSuccess, packet.NewRawBuilder().Uint32(ch.RemoteID).Bytes())
	}
	return nil
}

func (m *Mux) handleRequestAck(pkt *packet.Packet, ok bool) error {
	r := packet.NewReader(pkt.Payload)
	localID, err := r.Uint32()
	if err != nil {
		return err
	}
	ch, found := m.lookup(localID)
	if !found {
		return nil
	}
	select {
	case ch.requestAcks <- ok:
	default:
	}
	return nil
}

// pump drains a channel's outgoing queue against its remote window,
// the SSH-2 egress flow-control loop.
func (m *Mux) pump(ch *Channel) {
	for {
		ch.mu.Lock()
		if len(ch.outQueue) == 0 || ch.remoteWindow == 0 {
			ch.mu.Unlock()
			return
		}
		chunk := ch.outQueue[0]
		send := chunk
		max := ch.remoteWindow
		if ch.remoteMaxPacket != 0 && uint32(len(send)) > ch.remoteMaxPacket {
			max = ch.remoteMaxPacket
		}
		if uint32(len(send)) > max {
			send = send[:max]
		}
		rest := chunk[len(send):]
		if len(rest) == 0 {
			ch.outQueue = ch.outQueue[1:]
		} else {
			ch.outQueue[0] = rest
		}
		ch.remoteWindow -= uint32(len(send))
		remoteID := ch.RemoteID
		ch.mu.Unlock()

		b := packet.NewRawBuilder().Uint32(remoteID).String(send).Bytes()
		if err := m.c.SendPacket(proto.SSH2MsgChannelData, b); err != nil {
			return
		}
	}
}

// SendRequest issues a CHANNEL_REQUEST and, if wantReply, blocks for the
// matching CHANNEL_SUCCESS/FAILURE ("Pre-session requests").
func (c *Channel) SendRequest(name string, wantReply bool, typeSpecific []byte) (bool, error) {
	b := packet.NewRawBuilder().Uint32(c.RemoteID).Str(name).Bool(wantReply)
	b.Raw(typeSpecific)
	if err := c.mux.c.SendPacket(proto.SSH2MsgChannelRequest, b.Bytes()); err != nil {
		return false, fmt.Errorf("mux: send channel_request %q: %w", name, err)
	}
	if !wantReply {
		return true, nil
	}
	return <-c.requestAcks, nil
}

// SendEOF signals TS_EOF ("Signals & resize").
func (c *Channel) SendEOF() error {
	c.mu.Lock()
	if c.ourEOF {
		c.mu.Unlock()
		return nil
	}
	c.ourEOF = true
	remoteID := c.RemoteID
	c.mu.Unlock()
	return c.mux.c.SendPacket(proto.SSH2MsgChannelEOF, packet.NewRawBuilder().Uint32(remoteID).Bytes())
}

// Resize sends a window-change request (want_reply = false).
func (c *Channel) Resize(cols, rows, widthPx, heightPx uint32) error {
	payload := packet.NewRawBuilder().Uint32(cols).Uint32(rows).Uint32(widthPx).Uint32(heightPx).Bytes()
	_, err := c.SendRequest("window-change", false, payload)
	return err
}

// Close sends CHANNEL_CLOSE and marks our half closed ("Close").
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.ourClosed {
		c.mu.Unlock()
		return nil
	}
	c.ourClosed = true
	remoteID := c.RemoteID
	c.mu.Unlock()
	return c.mux.c.SendPacket(proto.SSH2MsgChannelClose, packet.NewRawBuilder().Uint32(remoteID).Bytes())
}
