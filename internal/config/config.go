// Package config resolves the ambient settings a client invocation needs
// beyond whatever the user passes on the command line: environment
// variables (optionally loaded from a .env file for local development),
// with hardcoded defaults as the last fallback.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process-wide defaults a CLI invocation falls back to when
// a flag was not given explicitly. Per-connection values (host, port,
// username) are deliberately not here: those come from cobra flags and
// positional arguments, not the environment.
type Config struct {
	LogLevel  string
	LogFormat string // "json" or "pretty"

	DefaultPort int
	TermType    string

	KnownHostsPath string
	PrivateKeyDir  string

	DialTimeoutSeconds int

	ProxyCommand  string
	ProxyUsername string

	SSHAuthSock string // ssh-agent socket, mirrors the standard environment variable
}

// Load reads environment variables (after trying to load a .env file in
// the current directory), falling back to sshc's built-in defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	defaultKnownHosts := filepath.Join(home, ".sshc", "known_hosts")
	defaultKeyDir := filepath.Join(home, ".sshc", "keys")

	cfg := &Config{
		LogLevel:           getEnv("SSHC_LOG_LEVEL", "info"),
		LogFormat:          getEnv("SSHC_LOG_FORMAT", "pretty"),
		DefaultPort:        getEnvAsInt("SSHC_DEFAULT_PORT", 22),
		TermType:           getEnv("TERM", "xterm-256color"),
		KnownHostsPath:     getEnv("SSHC_KNOWN_HOSTS", defaultKnownHosts),
		PrivateKeyDir:      getEnv("SSHC_KEY_DIR", defaultKeyDir),
		DialTimeoutSeconds: getEnvAsInt("SSHC_DIAL_TIMEOUT", 15),
		ProxyCommand:       getEnv("SSHC_PROXY_COMMAND", ""),
		ProxyUsername:      getEnv("SSHC_PROXY_USER", ""),
		SSHAuthSock:        getEnv("SSH_AUTH_SOCK", ""),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// SplitCSV parses a comma-separated environment value, the shape used
// e.g. by a multi-hop proxy chain definition.
func SplitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
