package transport

import (
	"regexp"
	"strings"
)

// BugSet is a bitset of quirks detected from the remote identification
// string ("Bug flags"). Each flag selects an alternative code path
// downstream; no other identity information leaks from version sniffing.
type BugSet uint32

const (
	// BugChokesOnSSH1Ignore marks SSH-1 servers (certain 1.2.18..22
	// releases) that mishandle a bare MSG_IGNORE used for password length
	// masking.
	BugChokesOnSSH1Ignore BugSet = 1 << iota
	// BugSSH2HMACTruncation marks SSH-2 servers (certain 2.0-2.3 releases)
	// that compute the truncated HMAC variants over the full-length digest
	// rather than per RFC.
	BugSSH2HMACTruncation
)

func (b BugSet) Has(flag BugSet) bool { return b&flag != 0 }

var ssh1BuggyVersion = regexp.MustCompile(`^1\.2\.(1[89]|2[0-2])$`)
var ssh2BuggyFamily = regexp.MustCompile(`-2\.(0|1|2|3)(\.[0-9]+)?[, ]`)

// DetectBugs inspects a raw identification string (e.g.
// "SSH-1.5-1.2.22" or "SSH-2.0-2.3.0 SSH Secure Shell") and returns the
// quirks it implies.
func DetectBugs(ident string) BugSet {
	var bugs BugSet
	rest := strings.TrimPrefix(ident, "SSH-")

	if ssh1BuggyVersion.MatchString(softwareVersionField(rest)) {
		bugs |= BugChokesOnSSH1Ignore
	}
	if ssh2BuggyFamily.MatchString(rest + " ") {
		bugs |= BugSSH2HMACTruncation
	}
	return bugs
}

// softwareVersionField extracts the softwareversion component following
// "protoversion-" in a trimmed identification string.
func softwareVersionField(rest string) string {
	idx := strings.Index(rest, "-")
	if idx < 0 {
		return ""
	}
	sw := rest[idx+1:]
	if sp := strings.IndexAny(sw, " \t"); sp >= 0 {
		sw = sw[:sp]
	}
	return sw
}
