package proxy

import (
	"context"
	"crypto/hmac"
	"crypto/md5" //nolint:staticcheck // SOCKS5 CHAP is specified in terms of HMAC-MD5; no substitute.
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/time/rate"
)

const (
	socks5MethodNoAuth       = 0x00
	socks5MethodUserPass     = 0x02
	socks5MethodCHAP         = 0x03
	socks5MethodNoAcceptable = 0xff
)

const (
	socks5AddrIPv4   = 0x01
	socks5AddrDomain = 0x03
	socks5AddrIPv6   = 0x04
)

// SOCKS5Auth selects how DialSOCKS5 authenticates with the proxy.
type SOCKS5Auth struct {
	Username, Password string
	UseCHAP            bool
}

// DialSOCKS4 wraps conn with a SOCKS4/SOCKS4A CONNECT negotiation.
func DialSOCKS4(ctx context.Context, conn net.Conn, host string, port int, userID string, limiter *rate.Limiter) (net.Conn, error) {
	pc := wrap(conn, limiter)
	if err := pc.negotiate(ctx, func(raw net.Conn) error {
		return socks4Handshake(raw, host, port, userID)
	}); err != nil {
		return nil, err
	}
	return pc, nil
}

func socks4Handshake(conn net.Conn, host string, port int, userID string) error {
	var ipv4 [4]byte
	var domain string
	if ip := net.ParseIP(host); ip != nil {
		v4 := ip.To4()
		if v4 == nil {
			return fmt.Errorf("proxy: socks4: only ipv4 destinations are supported directly, got %s", host)
		}
		copy(ipv4[:], v4)
	} else {
		// SOCKS4A: a nonzero low byte with the rest zero signals the
		// destination follows the user id as a hostname.
		ipv4 = [4]byte{0, 0, 0, 1}
		domain = host
	}

	req := []byte{4, 1}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(port))
	req = append(req, portBuf[:]...)
	req = append(req, ipv4[:]...)
	req = append(req, []byte(userID)...)
	req = append(req, 0)
	if domain != "" {
		req = append(req, []byte(domain)...)
		req = append(req, 0)
	}
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: socks4: write request: %w", err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("proxy: socks4: read reply: %w", err)
	}
	if reply[1] != 90 {
		return fmt.Errorf("proxy: socks4: request rejected or failed, code %d", reply[1])
	}
	return nil
}

// DialSOCKS5 wraps conn with a SOCKS5 negotiation: method selection,
// optional username/password or CHAP authentication, then CONNECT.
func DialSOCKS5(ctx context.Context, conn net.Conn, host string, port int, auth SOCKS5Auth, limiter *rate.Limiter) (net.Conn, error) {
	pc := wrap(conn, limiter)
	if err := pc.negotiate(ctx, func(raw net.Conn) error {
		return socks5Handshake(raw, host, port, auth)
	}); err != nil {
		return nil, err
	}
	return pc, nil
}

func socks5Handshake(conn net.Conn, host string, port int, auth SOCKS5Auth) error {
	methods := []byte{socks5MethodNoAuth}
	if auth.Username != "" {
		if auth.UseCHAP {
			methods = append(methods, socks5MethodCHAP)
		} else {
			methods = append(methods, socks5MethodUserPass)
		}
	}
	greeting := append([]byte{5, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return fmt.Errorf("proxy: socks5: write greeting: %w", err)
	}

	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return fmt.Errorf("proxy: socks5: read method selection: %w", err)
	}

	switch sel[1] {
	case socks5MethodNoAuth:
	case socks5MethodUserPass:
		if err := socks5UserPassAuth(conn, auth.Username, auth.Password); err != nil {
			return err
		}
	case socks5MethodCHAP:
		if err := socks5CHAPAuth(conn, auth.Username, auth.Password); err != nil {
			return err
		}
	case socks5MethodNoAcceptable:
		return fmt.Errorf("proxy: socks5: server rejected all authentication methods")
	default:
		return fmt.Errorf("proxy: socks5: server selected unsupported method %d", sel[1])
	}

	return socks5Connect(conn, host, port)
}

func socks5UserPassAuth(conn net.Conn, username, password string) error {
	req := []byte{1, byte(len(username))}
	req = append(req, []byte(username)...)
	req = append(req, byte(len(password)))
	req = append(req, []byte(password)...)
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: socks5: write userpass auth: %w", err)
	}
	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("proxy: socks5: read userpass auth reply: %w", err)
	}
	if resp[1] != 0 {
		return fmt.Errorf("proxy: socks5: userpass authentication failed")
	}
	return nil
}

// socks5CHAPAuth drives the challenge-response sub-protocol: identify,
// receive a challenge, answer with HMAC-MD5(password, challenge).
func socks5CHAPAuth(conn net.Conn, username, password string) error {
	ident := []byte{1, byte(len(username))}
	ident = append(ident, []byte(username)...)
	if _, err := conn.Write(ident); err != nil {
		return fmt.Errorf("proxy: socks5 chap: write identification: %w", err)
	}

	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("proxy: socks5 chap: read challenge header: %w", err)
	}
	challenge := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("proxy: socks5 chap: read challenge: %w", err)
	}

	response := SOCKS5CHAPResponse(password, challenge)
	resp := []byte{1, byte(len(response))}
	resp = append(resp, response...)
	if _, err := conn.Write(resp); err != nil {
		return fmt.Errorf("proxy: socks5 chap: write response: %w", err)
	}

	var status [2]byte
	if _, err := io.ReadFull(conn, status[:]); err != nil {
		return fmt.Errorf("proxy: socks5 chap: read status: %w", err)
	}
	if status[1] != 0 {
		return fmt.Errorf("proxy: socks5 chap: authentication failed")
	}
	return nil
}

// SOCKS5CHAPResponse computes the CHAP response for password and the
// server's challenge.
func SOCKS5CHAPResponse(password string, challenge []byte) []byte {
	mac := hmac.New(md5.New, []byte(password))
	mac.Write(challenge)
	return mac.Sum(nil)
}

func socks5Connect(conn net.Conn, host string, port int) error {
	req := []byte{5, 1, 0}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			req = append(req, socks5AddrIPv4)
			req = append(req, v4...)
		} else {
			req = append(req, socks5AddrIPv6)
			req = append(req, ip.To16()...)
		}
	} else {
		req = append(req, socks5AddrDomain, byte(len(host)))
		req = append(req, []byte(host)...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(port))
	req = append(req, portBuf[:]...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: socks5: write connect request: %w", err)
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("proxy: socks5: read connect reply header: %w", err)
	}
	if hdr[1] != 0 {
		return fmt.Errorf("proxy: socks5: connect failed, code %d", hdr[1])
	}
	switch hdr[3] {
	case socks5AddrIPv4:
		var skip [4 + 2]byte
		_, err := io.ReadFull(conn, skip[:])
		return err
	case socks5AddrIPv6:
		var skip [16 + 2]byte
		_, err := io.ReadFull(conn, skip[:])
		return err
	case socks5AddrDomain:
		var lenByte [1]byte
		if _, err := io.ReadFull(conn, lenByte[:]); err != nil {
			return err
		}
		skip := make([]byte, int(lenByte[0])+2)
		_, err := io.ReadFull(conn, skip)
		return err
	default:
		return fmt.Errorf("proxy: socks5: unknown bound address type %d", hdr[3])
	}
}
