package terminal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/websoft9/sshcore/internal/backend"
	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
)

// mockSession implements Session for testing the session registry.
type mockSession struct {
	closed bool
}

func (m *mockSession) Write(p []byte) (int, error) { return len(p), nil }
func (m *mockSession) Read(p []byte) (int, error)  { return 0, nil }
func (m *mockSession) Resize(_, _ uint16) error     { return nil }
func (m *mockSession) Close() error                 { m.closed = true; return nil }

func TestSessionRegistryTouchPreventsTimeout(t *testing.T) {
	sess := &mockSession{}
	id := "test-touch"
	Register(id, sess)
	defer Unregister(id)

	time.Sleep(10 * time.Millisecond)
	Touch(id)

	registry.mu.Lock()
	rs, ok := registry.sessions[id]
	registry.mu.Unlock()

	if !ok {
		t.Fatal("session should still be registered after Touch")
	}
	if time.Since(rs.lastMsg) > time.Second {
		t.Fatal("lastMsg should have been updated by Touch")
	}
}

func TestSessionRegistryUnregister(t *testing.T) {
	sess := &mockSession{}
	id := "test-unregister"
	Register(id, sess)
	Unregister(id)

	registry.mu.Lock()
	_, ok := registry.sessions[id]
	registry.mu.Unlock()

	if ok {
		t.Fatal("session should have been removed after Unregister")
	}
}

func TestAttachAuthPassword(t *testing.T) {
	var bcfg backend.Config
	cfg := ConnectorConfig{AuthType: "password", Secret: "secret123"}
	if err := attachAuth(&bcfg, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bcfg.Password == nil {
		t.Fatal("expected Password prompter to be set")
	}
	secret, ok := bcfg.Password("ignored")
	if !ok || secret != "secret123" {
		t.Fatalf("got (%q, %v), want (secret123, true)", secret, ok)
	}
}

func TestAttachAuthInvalidType(t *testing.T) {
	var bcfg backend.Config
	cfg := ConnectorConfig{AuthType: "unknown"}
	if err := attachAuth(&bcfg, cfg); err == nil {
		t.Fatal("expected error for unknown auth type")
	}
}

func TestAttachAuthPrivateKeyInvalid(t *testing.T) {
	var bcfg backend.Config
	cfg := ConnectorConfig{AuthType: "private_key", Secret: "not-a-valid-key"}
	if err := attachAuth(&bcfg, cfg); err == nil {
		t.Fatal("expected error for invalid private key")
	}
}

func TestAttachAuthPrivateKeyValid(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	var bcfg backend.Config
	cfg := ConnectorConfig{AuthType: "private_key", Secret: string(block)}
	if err := attachAuth(&bcfg, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bcfg.LocalKeys) != 1 {
		t.Fatalf("expected one local key, got %d", len(bcfg.LocalKeys))
	}
}

func TestAcceptAnyHostKeyAlwaysProceeds(t *testing.T) {
	v := acceptAnyHostKey("example.com", 22, "ssh-rsa", nil, "")
	if v != hostkeys.Proceed {
		t.Fatalf("got %v, want Proceed", v)
	}
}

func TestConnectorConfigFields(t *testing.T) {
	cfg := ConnectorConfig{
		Host:     "example.com",
		Port:     22,
		User:     "root",
		AuthType: "password",
		Secret:   "pass",
		Shell:    "bash",
	}
	if cfg.Host != "example.com" {
		t.Fatal("host mismatch")
	}
	if cfg.Port != 22 {
		t.Fatal("port mismatch")
	}
	if cfg.Shell != "bash" {
		t.Fatal("shell mismatch")
	}
}

func TestSSHConnectorImplementsInterface(t *testing.T) {
	var _ Connector = &SSHConnector{}
}
