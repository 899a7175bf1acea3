package proxy

import "testing"

func TestExpandTelnetTemplate(t *testing.T) {
	v := TelnetVars{Host: "example.com", Port: "22", User: "alice", Pass: "s3cret", ProxyHost: "proxy.local", ProxyPort: "1080"}

	cases := []struct {
		name, tmpl, want string
	}{
		{"host and port", "open %host %port\r\n", "open example.com 22\r\n"},
		{"user and pass", "%user:%pass", "alice:s3cret"},
		{"proxy fields", "%proxyhost:%proxyport", "proxy.local:1080"},
		{"literal percent", "100%% done", "100% done"},
		{"unknown escape kept literal", "%q stays", "%q stays"},
		{"backslash escapes", "a\\tb\\rc\\nd\\\\e\\%f", "a\tb\rc\nd\\e%f"},
		{"hex escape", "\\x41\\x42", "AB"},
		{"trailing percent", "abc%", "abc%"},
		{"trailing backslash", "abc\\", "abc\\"},
		{"incomplete hex falls back", "\\xZZ", "\\xZZ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExpandTelnetTemplate(tc.tmpl, v)
			if got != tc.want {
				t.Errorf("ExpandTelnetTemplate(%q) = %q, want %q", tc.tmpl, got, tc.want)
			}
		})
	}
}
