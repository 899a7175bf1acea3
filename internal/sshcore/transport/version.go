// Package transport implements the SSH-1/SSH-2 protocol state machine:
// version exchange, bug detection, key exchange (both SSH-1's RSA session
// key exchange and SSH-2's Diffie-Hellman KEX), rekeying, and host-key
// verification.
package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SoftwareVersion is the identification string this client advertises,
// following the "SSH-protoversion-softwareversion SP comments" grammar of
// the version exchange.
const SoftwareVersion = "sshcore_1.0"

// VersionInfo describes both ends of a negotiated version exchange.
type VersionInfo struct {
	Local      string // full local identification string, no CRLF
	Remote     string // full remote identification string, as received
	RemoteRaw  string // remote string verbatim, including any trailing text after softwareversion
	Major      int    // negotiated major protocol version: 1 or 2
	Bugs       BugSet
}

// ExchangeVersions sends the local identification string and reads the
// remote one, tolerating (and discarding) any banner lines that precede it
// per RFC 4253 §4.2 ("MAY send other lines of data before... the
// identification string").
func ExchangeVersions(w io.Writer, r *bufio.Reader, preferSSH2 bool) (*VersionInfo, error) {
	major := "2.0"
	if !preferSSH2 {
		major = "1.5"
	}
	local := fmt.Sprintf("SSH-%s-%s", major, SoftwareVersion)
	if _, err := io.WriteString(w, local+"\r\n"); err != nil {
		return nil, fmt.Errorf("transport: write version string: %w", err)
	}

	var remote string
	for i := 0; i < 50; i++ { // bound banner-line tolerance against a misbehaving peer
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("transport: read version string: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			remote = line
			break
		}
	}
	if remote == "" {
		return nil, fmt.Errorf("transport: peer sent no SSH identification string")
	}

	majorVersion, err := parseMajorVersion(remote)
	if err != nil {
		return nil, err
	}
	if !preferSSH2 && strings.HasPrefix(remote, "SSH-1.99-") {
		// The peer speaks both versions and we announced 1.5.
		majorVersion = 1
	}

	vi := &VersionInfo{
		Local:     local,
		Remote:    remote,
		RemoteRaw: remote,
		Major:     majorVersion,
	}
	vi.Bugs = DetectBugs(remote)
	return vi, nil
}

func parseMajorVersion(ident string) (int, error) {
	// ident looks like "SSH-2.0-OpenSSH_9.6" or "SSH-1.99-Cisco-1.25".
	rest := strings.TrimPrefix(ident, "SSH-")
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) < 1 {
		return 0, fmt.Errorf("transport: malformed identification string %q", ident)
	}
	proto := parts[0]
	switch {
	case strings.HasPrefix(proto, "2."):
		return 2, nil
	case proto == "1.99":
		// peer supports both; ExchangeVersions lowers this to 1 when we
		// offered 1.5.
		return 2, nil
	case strings.HasPrefix(proto, "1."):
		return 1, nil
	default:
		return 0, fmt.Errorf("transport: unsupported protocol version %q", proto)
	}
}
