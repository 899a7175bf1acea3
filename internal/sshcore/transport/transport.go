package transport

import (
	"bufio"
	"fmt"
	"net"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
	"github.com/websoft9/sshcore/internal/sshcore/packet"
)

// Preferences is the client's algorithm preference order for one session,
// used to drive negotiation against whatever the server advertises.
type Preferences struct {
	Kex         []string
	HostKey     []string
	CipherCS    []string
	CipherSC    []string
	MACCS       []string
	MACSC       []string
	CompressCS  []string
	CompressSC  []string
}

// DefaultPreferences builds a preference list from the registries in their
// declared (most-to-least preferred) order.
func DefaultPreferences() Preferences {
	var p Preferences
	for _, k := range algorithms.KexRegistry {
		p.Kex = append(p.Kex, k.Name)
	}
	for _, h := range algorithms.HostKeyRegistry {
		p.HostKey = append(p.HostKey, h.Name)
	}
	for _, c := range algorithms.CipherRegistry {
		p.CipherCS = append(p.CipherCS, c.Name)
		p.CipherSC = append(p.CipherSC, c.Name)
	}
	for _, m := range algorithms.MACRegistry {
		p.MACCS = append(p.MACCS, m.Name)
		p.MACSC = append(p.MACSC, m.Name)
	}
	for _, c := range algorithms.CompressorRegistry {
		p.CompressCS = append(p.CompressCS, c.Name)
		p.CompressSC = append(p.CompressSC, c.Name)
	}
	return p
}

// NegotiatedSSH2 is the outcome of one KEXINIT algorithm negotiation.
type NegotiatedSSH2 struct {
	Kex        string
	HostKey    string
	CipherCS   string
	CipherSC   string
	MACCS      string
	MACSC      string
	CompressCS string
	CompressSC string
}

// Client drives one SSH connection's transport layer: version exchange,
// key exchange, rekeying and host-key verification. Everything above the
// transport layer (user auth, channel multiplexing) talks to the peer only
// through SendPacket/ReadPacket.
type Client struct {
	Conn   net.Conn
	reader *bufio.Reader

	Host string
	Port int

	Version *VersionInfo
	Prefs   Preferences

	HostCache    *hostkeys.Cache
	HostCallback hostkeys.Callback

	// SSH-2 state.
	Framer2   *packet.SSH2Framer
	SessionID []byte // fixed across rekeys once established by the first key exchange
	lastNeg   *NegotiatedSSH2

	// SSH-1 state.
	Framer1 *packet.SSH1Framer

	// WantRekey marks a client-initiated rekey as pending: the backend's
	// maintenance timer sets it just before calling Rekey, and a completed
	// SSH-2 key exchange clears it. Nothing in this package starts a rekey
	// because it is set.
	WantRekey bool
}

// NewClient wraps conn for a not-yet-handshaken connection.
func NewClient(conn net.Conn, host string, port int, cache *hostkeys.Cache, cb hostkeys.Callback) *Client {
	return &Client{
		Conn:         conn,
		reader:       bufio.NewReader(conn),
		Host:         host,
		Port:         port,
		Prefs:        DefaultPreferences(),
		HostCache:    cache,
		HostCallback: cb,
	}
}

// Handshake performs the version exchange and the initial key exchange,
// selecting SSH-2 when the remote speaks only SSH-2, or speaks both (1.99)
// and preferSSH2 is true, and SSH-1 otherwise.
func (c *Client) Handshake(preferSSH2 bool) error {
	vi, err := ExchangeVersions(c.Conn, c.reader, preferSSH2)
	if err != nil {
		return err
	}
	c.Version = vi

	if vi.Major == 2 {
		c.Framer2 = packet.NewSSH2Framer()
		return c.runKexSSH2(true)
	}
	c.Framer1 = packet.NewSSH1Framer()
	return c.runKexSSH1()
}

// Rekey performs a fresh SSH-2 key exchange over the existing connection,
// preserving SessionID. It is used for client-initiated rekeys; a KEXINIT
// the server sends first is handled by RekeyFromPeer.
func (c *Client) Rekey() error {
	if c.Framer2 == nil {
		return fmt.Errorf("transport: rekey is only defined for ssh-2")
	}
	return c.runKexSSH2(false)
}

// RekeyFromPeer performs a server-initiated rekey where remoteKexInit is a
// KEXINIT packet a caller's read loop has already consumed from ReadPacket:
// the caller calls RekeyFromPeer (rather than Rekey) when it sees message
// type 20 outside of a handshake already in progress.
func (c *Client) RekeyFromPeer(remoteKexInit *packet.Packet) error {
	if c.Framer2 == nil {
		return fmt.Errorf("transport: rekey is only defined for ssh-2")
	}
	return c.runKexSSH2WithRemote(false, remoteKexInit)
}

// SendPacket writes one packet using whichever protocol version is active.
func (c *Client) SendPacket(msgType byte, payload []byte) error {
	if c.Framer2 != nil {
		raw, err := c.Framer2.EncodePacket(append([]byte{msgType}, payload...))
		if err != nil {
			return err
		}
		_, err = c.Conn.Write(raw)
		return err
	}
	raw, err := c.Framer1.EncodePacket(msgType, payload)
	if err != nil {
		return err
	}
	_, err = c.Conn.Write(raw)
	return err
}

// ReadPacket reads one packet using whichever protocol version is active.
// SSH-2 KEXINIT packets arriving outside an explicit Rekey call are
// returned to the caller like any other message; the caller (or a
// dispatch loop built on top of this Client) is expected to call
// RekeyFromPeer when it sees message type 20 outside of a handshake in
// progress.
func (c *Client) ReadPacket() (*packet.Packet, error) {
	if c.Framer2 != nil {
		return c.Framer2.ReadPacket(c.reader)
	}
	return c.Framer1.ReadPacket(c.reader)
}

// Reader exposes the buffered connection reader for callers that need to
// peek ahead (e.g. the auth layer probing for a banner).
func (c *Client) Reader() *bufio.Reader { return c.reader }

func (c *Client) Close() error { return c.Conn.Close() }
