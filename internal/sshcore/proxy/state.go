// Package proxy implements the pre-transport proxy negotiators: HTTP
// CONNECT, a Telnet-command template, and SOCKS4/SOCKS5
// (including the CHAP authentication sub-protocol). Each wraps a freshly
// dialed socket, buffers application writes issued during negotiation,
// and replays them once negotiation succeeds.
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// State is one of the four states every negotiator shares: NEW,
// negotiating, ACTIVE, error.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateActive
	StateError
)

// Conn wraps a transport socket while a negotiator drives it through
// NEW -> negotiating -> ACTIVE (or error). Writes issued before ACTIVE
// are queued and flushed in order once negotiation completes.
type Conn struct {
	net.Conn

	mu      sync.Mutex
	state   State
	pending [][]byte
	err     error

	// Limiter throttles negotiation attempts (e.g. a misbehaving proxy
	// retried in a loop); nil disables rate limiting.
	Limiter *rate.Limiter
}

func wrap(c net.Conn, limiter *rate.Limiter) *Conn {
	return &Conn{Conn: c, state: StateNew, Limiter: limiter}
}

// State reports the negotiator's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Write is CHANGE_SENT from the application's point of view: once ACTIVE
// it passes straight through; before that it buffers.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return c.Conn.Write(p)
	case StateError:
		err := c.err
		c.mu.Unlock()
		return 0, err
	default:
		cp := append([]byte(nil), p...)
		c.pending = append(c.pending, cp)
		c.mu.Unlock()
		return len(p), nil
	}
}

// negotiate runs fn directly against the underlying socket (fn owns
// CHANGE_RECEIVE/CHANGE_SENT for the wire protocol it speaks), then
// transitions to ACTIVE and flushes anything Write buffered, or to error.
func (c *Conn) negotiate(ctx context.Context, fn func(net.Conn) error) error {
	c.mu.Lock()
	c.state = StateNegotiating
	c.mu.Unlock()

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("proxy: rate limit wait: %w", err)
		}
	}

	err := fn(c.Conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateError
		c.err = err
		return err
	}
	c.state = StateActive
	for _, p := range c.pending {
		if _, werr := c.Conn.Write(p); werr != nil {
			c.err = werr
			c.state = StateError
			return werr
		}
	}
	c.pending = nil
	return nil
}

// Close is CHANGE_CLOSING: subsequent writes observe an error rather than
// silently buffering forever.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.state = StateError
	if c.err == nil {
		c.err = fmt.Errorf("proxy: connection closing")
	}
	c.mu.Unlock()
	return c.Conn.Close()
}
