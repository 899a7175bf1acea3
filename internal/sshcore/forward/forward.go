// Package forward implements the per-channel adapters the multiplexer
// hands X11 and agent channels off to ("Open (remote → local)",
// component J): SSH-2 agent message re-framing onto the local ssh-agent
// socket, and X11 connection-setup authentication, after which the setup
// is passed to the local display with its authorization fields stripped.
package forward

import "io"

// ChannelConn is the subset of mux.Channel a forwarder needs: a
// bidirectional byte stream plus close. Depending on this narrow interface
// rather than importing mux keeps forward free of a cyclic dependency on
// the multiplexer package ("Cyclic references... resolve with
// non-owning back-references").
type ChannelConn interface {
	io.Reader
	io.Writer
	Close() error
}
