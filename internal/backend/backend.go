// Package backend composes the transport, auth, channel-multiplexing,
// forwarding and proxy layers into a single interactive session actor,
// the way a terminal frontend or CLI driver wants to consume one: dial,
// authenticate, open the interactive channel, then stream bytes and
// forward resize/signal events until the peer (or the caller) closes it.
//
// A Session is a single-owning-goroutine actor: exactly one goroutine
// (the one that calls Dial) mutates protocol state, while a background
// reader goroutine delivers data into buffered queues that Read/ReadStderr
// drain. This mirrors the ownership discipline mux.Channel already uses
// for SSH-2; Session extends the same discipline down to version
// negotiation, key exchange and user authentication, and up to the
// SSH-1 case where there is no mux.Channel to delegate to.
package backend

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/websoft9/sshcore/internal/sshcore/auth"
	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
	"github.com/websoft9/sshcore/internal/sshcore/mux"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
	"github.com/websoft9/sshcore/internal/sshcore/proto"
	"github.com/websoft9/sshcore/internal/sshcore/proxy"
	"github.com/websoft9/sshcore/internal/sshcore/transport"
	"github.com/websoft9/sshcore/internal/timerwheel"
)

const defaultRekeyInterval = time.Hour

// State is one stop along a Session's lifecycle: PREPACKET (no bytes
// exchanged yet), BEFORE_SIZE (connected and authenticated, but the
// frontend has not yet told us the terminal size), INTERMED (pty/shell
// request in flight), SESSION (interactive), CLOSED.
type State int

const (
	StatePrepacket State = iota
	StateBeforeSize
	StateIntermed
	StateSession
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePrepacket:
		return "prepacket"
	case StateBeforeSize:
		return "before-size"
	case StateIntermed:
		return "intermed"
	case StateSession:
		return "session"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProxyKind selects which pre-transport negotiator wraps the raw dial.
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxyHTTP
	ProxySOCKS4
	ProxySOCKS5
	ProxyTelnet
)

// ProxyConfig describes an optional proxy hop dialed before the version
// exchange begins. Addr is the proxy's own host:port; Host/Port passed to
// Dial remain the real destination the proxy is asked to reach.
type ProxyConfig struct {
	Kind     ProxyKind
	Addr     string
	Username string
	Password string

	// TelnetTemplate is used only when Kind is ProxyTelnet.
	TelnetTemplate string
	// UseCHAP selects the CHAP sub-protocol for SOCKS5 authentication
	// instead of plain username/password.
	UseCHAP bool

	RateLimiter *rate.Limiter
	DialTimeout time.Duration
}

// Config bundles everything a Session needs to dial, authenticate and
// open an interactive channel.
type Config struct {
	Host string
	Port int

	PreferSSH2 bool

	Username  string
	Password  auth.PasswordPrompter
	TISPrompt auth.PasswordPrompter
	Banner    auth.BannerHandler
	Agent     auth.Agent
	LocalKeys []auth.LocalKey

	AgentSSH1          *auth.SSH1Agent
	LocalRSAKeysSSH1   []*rsa.PrivateKey
	ChokesOnSSH1Ignore bool

	HostKeyCache    *hostkeys.Cache
	HostKeyCallback hostkeys.Callback

	Proxy *ProxyConfig

	TermType                 string
	InitialCols, InitialRows uint32

	DialTimeout time.Duration

	// OpenRateLimiter throttles inbound CHANNEL_OPEN requests on the
	// SSH-2 mux (agent/X11 forwarding channels the peer opens back).
	OpenRateLimiter *rate.Limiter

	// OnForwardOpen is consulted for every remote-initiated SSH-2
	// forwarding channel (auth-agent or X11); nil rejects all of them.
	OnForwardOpen mux.OpenRequestHandler

	// RekeyInterval bounds how long an SSH-2 transport goes between key
	// exchanges. Zero uses defaultRekeyInterval. Ignored on SSH-1, which
	// has no rekeying.
	RekeyInterval time.Duration
	// KeepaliveInterval, if non-zero, sends a "keepalive@openssh.com"
	// channel request on this schedule to detect a dead peer before the
	// OS notices the TCP connection has gone away.
	KeepaliveInterval time.Duration
}

func dialNetwork(ctx context.Context, cfg Config) (net.Conn, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if cfg.Proxy != nil && cfg.Proxy.Kind != ProxyNone {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Proxy.Addr)
	} else {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: dial: %w", err)
	}

	if cfg.Proxy == nil || cfg.Proxy.Kind == ProxyNone {
		return conn, nil
	}

	wrapped, err := negotiateProxy(ctx, conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return wrapped, nil
}

func negotiateProxy(ctx context.Context, conn net.Conn, cfg Config) (net.Conn, error) {
	p := cfg.Proxy
	switch p.Kind {
	case ProxyHTTP:
		return proxy.DialHTTPConnect(ctx, conn, cfg.Host, cfg.Port, p.Username, p.Password, p.RateLimiter)
	case ProxySOCKS4:
		return proxy.DialSOCKS4(ctx, conn, cfg.Host, cfg.Port, p.Username, p.RateLimiter)
	case ProxySOCKS5:
		return proxy.DialSOCKS5(ctx, conn, cfg.Host, cfg.Port, proxy.SOCKS5Auth{
			Username: p.Username,
			Password: p.Password,
			UseCHAP:  p.UseCHAP,
		}, p.RateLimiter)
	case ProxyTelnet:
		vars := proxy.TelnetVars{
			Host: cfg.Host,
			Port: fmt.Sprintf("%d", cfg.Port),
			User: p.Username,
			Pass: p.Password,
		}
		return proxy.DialTelnetCommand(ctx, conn, p.TelnetTemplate, vars, p.RateLimiter)
	default:
		return conn, nil
	}
}

// pipe is the narrow surface Session needs from either an SSH-2
// mux.Channel or the SSH-1 legacy session stream, so the rest of Session
// does not care which protocol version it is driving.
type pipe interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	ReadStderr(p []byte) (int, error)
	Resize(cols, rows, widthPx, heightPx uint32) error
	SendEOF() error
	Close() error
	ExitStatus() (int, bool)
}

// Session is one connected, authenticated SSH session driving an
// interactive remote command (ordinarily a shell).
type Session struct {
	mu    sync.Mutex
	state State

	cfg    Config
	conn   net.Conn
	client *transport.Client
	m      *mux.Mux     // nil for SSH-1
	ch     *mux.Channel // set when m != nil
	ssh1   *ssh1Session // set when m == nil
	pipe   pipe

	wheel        *timerwheel.Wheel
	clock        *timerwheel.Clock
	stopMaintain chan struct{}
}

// Dial connects to cfg.Host:cfg.Port (through cfg.Proxy if set), performs
// the version exchange, key exchange and user authentication, and opens
// the interactive session channel requesting a PTY of the configured
// initial size. The returned Session is in StateBeforeSize; call Shell
// or Exec to move it into StateSession.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	conn, err := dialNetwork(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(conn, cfg.Host, cfg.Port, cfg.HostKeyCache, cfg.HostKeyCallback)
	if err := client.Handshake(cfg.PreferSSH2); err != nil {
		conn.Close()
		return nil, fmt.Errorf("backend: handshake: %w", err)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		client: client,
		state:  StatePrepacket,
	}

	if client.Framer2 != nil {
		if err := s.authenticateSSH2(); err != nil {
			conn.Close()
			return nil, err
		}
		if err := s.openSessionChannelSSH2(); err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		if err := s.authenticateSSH1(); err != nil {
			conn.Close()
			return nil, err
		}
		if err := s.openSessionSSH1(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	s.state = StateBeforeSize
	return s, nil
}

func (s *Session) authenticateSSH2() error {
	return auth.AuthenticateSSH2(s.client, auth.Config{
		Username:  s.cfg.Username,
		Agent:     s.cfg.Agent,
		LocalKeys: s.cfg.LocalKeys,
		Password:  s.cfg.Password,
		TISPrompt: s.cfg.TISPrompt,
		Banner:    s.cfg.Banner,
	})
}

func (s *Session) authenticateSSH1() error {
	return auth.AuthenticateSSH1(s.client, auth.SSH1Config{
		Config: auth.Config{
			Username:           s.cfg.Username,
			Password:           s.cfg.Password,
			TISPrompt:          s.cfg.TISPrompt,
			Banner:             s.cfg.Banner,
			ChokesOnSSH1Ignore: s.cfg.ChokesOnSSH1Ignore,
		},
		AgentSSH1: s.cfg.AgentSSH1,
		LocalRSA:  s.cfg.LocalRSAKeysSSH1,
	})
}

func (s *Session) openSessionChannelSSH2() error {
	m := mux.New(s.client)
	m.OpenRateLimiter = s.cfg.OpenRateLimiter
	m.OnOpenRequest = s.cfg.OnForwardOpen

	ch, err := m.OpenSession()
	if err != nil {
		return fmt.Errorf("backend: open session channel: %w", err)
	}

	go func() {
		if err := m.Run(); err != nil {
			s.markClosed()
		}
	}()

	s.m = m
	s.ch = ch
	s.pipe = ch
	s.startMaintenance()
	return s.requestPTYSSH2()
}

// startMaintenance schedules periodic rekeying and, if configured,
// keepalive channel requests, driven by a single tick goroutine that owns
// the wheel exactly as the session's other state is owned by Dial's
// caller goroutine (apart from setting client.WantRekey, the tick goroutine
// does not touch client/channel state directly; it only calls Rekey and
// SendRequest, both of which are safe to call concurrently with Read/Write).
func (s *Session) startMaintenance() {
	s.clock = timerwheel.NewClock(timerwheel.TrustCaller)
	s.wheel = timerwheel.New(nil)
	s.stopMaintain = make(chan struct{})

	rekeyEvery := s.cfg.RekeyInterval
	if rekeyEvery == 0 {
		rekeyEvery = defaultRekeyInterval
	}

	const maintCtx = "maintenance"
	now := s.clock.Now(time.Now())
	s.wheel.Schedule(now, uint32(rekeyEvery.Seconds()), s.onRekeyDue, maintCtx)
	if s.cfg.KeepaliveInterval > 0 {
		s.wheel.Schedule(now, uint32(s.cfg.KeepaliveInterval.Seconds()), s.onKeepaliveDue, maintCtx)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopMaintain:
				return
			case <-ticker.C:
				s.wheel.RunDue(s.clock.Now(time.Now()))
			}
		}
	}()
}

func (s *Session) onRekeyDue(ctx any) {
	s.client.WantRekey = true
	if err := s.client.Rekey(); err != nil {
		s.markClosed()
		return
	}
	rekeyEvery := s.cfg.RekeyInterval
	if rekeyEvery == 0 {
		rekeyEvery = defaultRekeyInterval
	}
	s.wheel.Schedule(s.clock.Now(time.Now()), uint32(rekeyEvery.Seconds()), s.onRekeyDue, ctx)
}

func (s *Session) onKeepaliveDue(ctx any) {
	if s.ch != nil {
		_, _ = s.ch.SendRequest("keepalive@openssh.com", true, nil)
	}
	s.wheel.Schedule(s.clock.Now(time.Now()), uint32(s.cfg.KeepaliveInterval.Seconds()), s.onKeepaliveDue, ctx)
}

func (s *Session) requestPTYSSH2() error {
	payload := packet.NewRawBuilder().
		Str(s.cfg.TermType).
		Uint32(s.cfg.InitialCols).
		Uint32(s.cfg.InitialRows).
		Uint32(0).
		Uint32(0).
		String(nil).
		Bytes()
	ok, err := s.ch.SendRequest("pty-req", true, payload)
	if err != nil {
		return fmt.Errorf("backend: pty-req: %w", err)
	}
	if !ok {
		return fmt.Errorf("backend: peer refused pty-req")
	}
	return nil
}

func (s *Session) openSessionSSH1() error {
	payload := packet.NewRawBuilder().
		Str(s.cfg.TermType).
		Uint32(s.cfg.InitialRows).
		Uint32(s.cfg.InitialCols).
		Uint32(0).
		Uint32(0).
		Byte(0).
		Bytes()
	if err := s.client.SendPacket(proto.SSH1CMsgRequestPty, payload); err != nil {
		return fmt.Errorf("backend: request-pty: %w", err)
	}
	pkt, err := s.client.ReadPacket()
	if err != nil {
		return fmt.Errorf("backend: pty-req reply: %w", err)
	}
	if pkt.Type != proto.SSH1SMsgSuccess {
		return fmt.Errorf("backend: peer refused pty allocation")
	}

	sess := newSSH1Session(s.client)
	s.ssh1 = sess
	s.pipe = sess
	return nil
}

// Shell requests an interactive login shell on the already-open channel
// and moves the Session into StateSession.
func (s *Session) Shell() error {
	return s.startCommand("shell", proto.SSH1CMsgExecShell, nil)
}

// Exec requests a single command be run non-interactively.
func (s *Session) Exec(command string) error {
	ssh2Payload := packet.NewRawBuilder().Str(command).Bytes()
	return s.startCommand("exec", proto.SSH1CMsgExecCmd, ssh2Payload)
}

func (s *Session) startCommand(ssh2ReqType string, ssh1MsgType byte, ssh2Payload []byte) error {
	s.mu.Lock()
	s.state = StateIntermed
	s.mu.Unlock()

	if s.m != nil {
		ok, err := s.ch.SendRequest(ssh2ReqType, true, ssh2Payload)
		if err != nil {
			return fmt.Errorf("backend: %s: %w", ssh2ReqType, err)
		}
		if !ok {
			return fmt.Errorf("backend: peer refused %s", ssh2ReqType)
		}
	} else {
		var payload []byte
		if ssh1MsgType == proto.SSH1CMsgExecCmd {
			r := packet.NewReader(ssh2Payload)
			cmd, _ := r.Str()
			payload = packet.NewRawBuilder().Str(cmd).Bytes()
		}
		if err := s.client.SendPacket(ssh1MsgType, payload); err != nil {
			return fmt.Errorf("backend: ssh1 start command: %w", err)
		}
		go s.ssh1.run()
	}

	s.mu.Lock()
	s.state = StateSession
	s.mu.Unlock()
	return nil
}

// Write sends keyboard/stdin bytes to the remote process.
func (s *Session) Write(p []byte) (int, error) { return s.pipe.Write(p) }

// Read receives stdout bytes from the remote process.
func (s *Session) Read(p []byte) (int, error) { return s.pipe.Read(p) }

// ReadStderr receives stderr bytes. SSH-1's wire format carries stderr as
// its own message type just like SSH-2's extended data, so both backends
// keep it on a separate buffer.
func (s *Session) ReadStderr(p []byte) (int, error) { return s.pipe.ReadStderr(p) }

// Resize notifies the remote PTY of a new terminal size.
func (s *Session) Resize(cols, rows uint32) error {
	return s.pipe.Resize(cols, rows, 0, 0)
}

// Special delivers one of the out-of-band terminal signals to the remote
// side. TSEOF is universal; the rest require SSH-2's "signal" and "break"
// channel requests and return an error on an SSH-1 session, which has no
// equivalent mechanism.
func (s *Session) Special(sig proto.TerminalSignal) error {
	if sig == proto.TSEOF {
		return s.pipe.SendEOF()
	}
	if s.ch == nil {
		return fmt.Errorf("backend: ssh1 sessions do not support signal delivery")
	}
	if sig == proto.TSBreak {
		ok, err := s.ch.SendRequest("break", true, packet.NewRawBuilder().Uint32(0).Bytes())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("backend: peer refused break")
		}
		return nil
	}
	name, ok := signalName(sig)
	if !ok {
		return fmt.Errorf("backend: unsupported special %v", sig)
	}
	_, err := s.ch.SendRequest("signal", false, packet.NewRawBuilder().Str(name).Bytes())
	return err
}

func signalName(sig proto.TerminalSignal) (string, bool) {
	switch sig {
	case proto.TSSigINT:
		return "INT", true
	case proto.TSSigTERM:
		return "TERM", true
	case proto.TSSigHUP:
		return "HUP", true
	case proto.TSSigKILL:
		return "KILL", true
	default:
		return "", false
	}
}

// ExitStatus returns the remote command's exit status, if the peer has
// reported one yet.
func (s *Session) ExitStatus() (int, bool) { return s.pipe.ExitStatus() }

// OpenForward opens an additional SSH-2 channel of chanType (e.g.
// "direct-tcpip") alongside the interactive session channel, for local
// or dynamic port forwarding. It returns an error on SSH-1 connections,
// which have no channel multiplexing.
func (s *Session) OpenForward(chanType string, typeSpecific []byte) (*mux.Channel, error) {
	s.mu.Lock()
	m := s.m
	s.mu.Unlock()
	if m == nil {
		return nil, fmt.Errorf("backend: port forwarding requires SSH-2")
	}
	return m.OpenSSH2(chanType, typeSpecific, mux.SessionInitialWindow, mux.SessionMaxPacket)
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears down the session channel and the underlying connection.
func (s *Session) Close() error {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	if s.stopMaintain != nil {
		close(s.stopMaintain)
	}
	if s.pipe != nil {
		_ = s.pipe.Close()
	}
	return s.conn.Close()
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}
