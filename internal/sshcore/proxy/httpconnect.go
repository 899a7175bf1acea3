package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// DialHTTPConnect wraps conn with an HTTP CONNECT negotiation to
// host:port, optionally authenticating with Proxy-Authorization: Basic
// ("HTTP CONNECT").
func DialHTTPConnect(ctx context.Context, conn net.Conn, host string, port int, username, password string, limiter *rate.Limiter) (net.Conn, error) {
	pc := wrap(conn, limiter)
	if err := pc.negotiate(ctx, func(raw net.Conn) error {
		return httpConnectHandshake(raw, host, port, username, password)
	}); err != nil {
		return nil, err
	}
	return pc, nil
}

func httpConnectHandshake(conn net.Conn, host string, port int, username, password string) error {
	target := net.JoinHostPort(host, strconv.Itoa(port))

	var req bytes.Buffer
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&req, "Host: %s\r\n", target)
	if username != "" || password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		fmt.Fprintf(&req, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write(req.Bytes()); err != nil {
		return fmt.Errorf("proxy: http connect: write request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "CONNECT"})
	if err != nil {
		return fmt.Errorf("proxy: http connect: read response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("proxy: http connect: %s", resp.Status)
	}
	return nil
}
