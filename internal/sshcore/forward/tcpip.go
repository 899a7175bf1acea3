package forward

import (
	"io"
	"net"

	"github.com/websoft9/sshcore/internal/sshcore/packet"
)

// DirectTCPIP is the type-specific payload of an SSH-2 "direct-tcpip"
// channel open: the destination the client wants reached, plus the
// address the connection is being made on behalf of.
type DirectTCPIP struct {
	DestHost string
	DestPort uint32
	OrigHost string
	OrigPort uint32
}

// PackDirectTCPIP encodes the open payload for a local (-L) or dynamic
// (-D) forward's outgoing connection.
func PackDirectTCPIP(d DirectTCPIP) []byte {
	return packet.NewRawBuilder().
		Str(d.DestHost).
		Uint32(d.DestPort).
		Str(d.OrigHost).
		Uint32(d.OrigPort).
		Bytes()
}

// ParseDirectTCPIP decodes a "direct-tcpip" open payload received from
// the peer.
func ParseDirectTCPIP(payload []byte) (DirectTCPIP, error) {
	r := packet.NewReader(payload)
	var d DirectTCPIP
	var err error
	if d.DestHost, err = r.Str(); err != nil {
		return d, err
	}
	if d.DestPort, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.OrigHost, err = r.Str(); err != nil {
		return d, err
	}
	if d.OrigPort, err = r.Uint32(); err != nil {
		return d, err
	}
	return d, nil
}

// ForwardedTCPIP is the type-specific payload of an SSH-2
// "forwarded-tcpip" channel open, sent by the server when a connection
// arrives on a remote (-R) forward's bound port.
type ForwardedTCPIP struct {
	BoundHost string
	BoundPort uint32
	OrigHost  string
	OrigPort  uint32
}

// PackForwardedTCPIP encodes the open payload a server sends back to the
// client for an incoming remote-forward connection.
func PackForwardedTCPIP(f ForwardedTCPIP) []byte {
	return packet.NewRawBuilder().
		Str(f.BoundHost).
		Uint32(f.BoundPort).
		Str(f.OrigHost).
		Uint32(f.OrigPort).
		Bytes()
}

// ParseForwardedTCPIP decodes a "forwarded-tcpip" open payload.
func ParseForwardedTCPIP(payload []byte) (ForwardedTCPIP, error) {
	r := packet.NewReader(payload)
	var f ForwardedTCPIP
	var err error
	if f.BoundHost, err = r.Str(); err != nil {
		return f, err
	}
	if f.BoundPort, err = r.Uint32(); err != nil {
		return f, err
	}
	if f.OrigHost, err = r.Str(); err != nil {
		return f, err
	}
	if f.OrigPort, err = r.Uint32(); err != nil {
		return f, err
	}
	return f, nil
}

// PipeConn copies data in both directions between a local TCP connection
// and a channel until either side closes, then closes both.
func PipeConn(local net.Conn, remote ChannelConn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
	local.Close()
	remote.Close()
}
