package proxy

import (
	"context"
	"net"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// TelnetVars supplies the substitution values for ExpandTelnetTemplate
// ("Telnet command").
type TelnetVars struct {
	Host, Port, User, Pass, ProxyHost, ProxyPort string
}

var telnetKeywords = []struct {
	name string
	get  func(TelnetVars) string
}{
	{"proxyhost", func(v TelnetVars) string { return v.ProxyHost }},
	{"proxyport", func(v TelnetVars) string { return v.ProxyPort }},
	{"host", func(v TelnetVars) string { return v.Host }},
	{"port", func(v TelnetVars) string { return v.Port }},
	{"user", func(v TelnetVars) string { return v.User }},
	{"pass", func(v TelnetVars) string { return v.Pass }},
}

// ExpandTelnetTemplate expands %host/%port/%user/%pass/%proxyhost/
// %proxyport/%% and the backslash escapes \\ \% \r \n \t \xHH. An unknown
// %X is emitted literally including the percent sign .
func ExpandTelnetTemplate(tmpl string, v TelnetVars) string {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		switch tmpl[i] {
		case '%':
			rest := tmpl[i+1:]
			if strings.HasPrefix(rest, "%") {
				out.WriteByte('%')
				i += 2
				continue
			}
			matched := false
			for _, kw := range telnetKeywords {
				if strings.HasPrefix(rest, kw.name) {
					out.WriteString(kw.get(v))
					i += 1 + len(kw.name)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if len(rest) > 0 {
				out.WriteByte('%')
				out.WriteByte(rest[0])
				i += 2
			} else {
				out.WriteByte('%')
				i++
			}
		case '\\':
			if i+1 >= len(tmpl) {
				out.WriteByte('\\')
				i++
				continue
			}
			switch tmpl[i+1] {
			case '\\':
				out.WriteByte('\\')
				i += 2
			case '%':
				out.WriteByte('%')
				i += 2
			case 'r':
				out.WriteByte('\r')
				i += 2
			case 'n':
				out.WriteByte('\n')
				i += 2
			case 't':
				out.WriteByte('\t')
				i += 2
			case 'x':
				if i+3 < len(tmpl) {
					if b, ok := parseHexByte(tmpl[i+2 : i+4]); ok {
						out.WriteByte(b)
						i += 4
						continue
					}
				}
				out.WriteByte('\\')
				i++
			default:
				out.WriteByte('\\')
				i++
			}
		default:
			out.WriteByte(tmpl[i])
			i++
		}
	}
	return out.String()
}

func parseHexByte(s string) (byte, bool) {
	if len(s) != 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// DialTelnetCommand wraps conn, emits the expanded template, and
// unconditionally transitions to ACTIVE regardless of any reply: the
// Telnet command has no acknowledgement to wait for.
func DialTelnetCommand(ctx context.Context, conn net.Conn, tmpl string, v TelnetVars, limiter *rate.Limiter) (net.Conn, error) {
	pc := wrap(conn, limiter)
	if err := pc.negotiate(ctx, func(raw net.Conn) error {
		_, err := raw.Write([]byte(ExpandTelnetTemplate(tmpl, v)))
		return err
	}); err != nil {
		return nil, err
	}
	return pc, nil
}
