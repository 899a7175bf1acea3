package hostkeys

import (
	"path/filepath"
	"testing"
)

func TestVerifyFirstContactAndCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostkeys.cache")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	blob := []byte("host-key-blob")
	called := false
	cb := func(host string, port int, keyType string, b []byte, fp string) Verdict {
		called = true
		if host != "example.com" || port != 22 || keyType != "ssh-rsa" {
			t.Fatalf("unexpected callback args: %s %d %s", host, port, keyType)
		}
		return ProceedAndCache
	}

	if err := c.Verify("example.com", 22, "ssh-rsa", blob, "aa:bb", cb); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !called {
		t.Fatalf("callback not invoked on first contact")
	}

	// Reload from disk and verify the cached key now matches silently.
	c2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	called = false
	if err := c2.Verify("example.com", 22, "ssh-rsa", blob, "aa:bb", cb); err != nil {
		t.Fatalf("Verify after reload: %v", err)
	}
	if called {
		t.Fatalf("callback invoked despite matching cached key")
	}
}

func TestVerifyMismatchInvokesCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostkeys.cache")
	c, _ := Load(path)
	c.Store("example.com", 22, "ssh-rsa", []byte("old-blob"))

	if err := c.Verify("example.com", 22, "ssh-rsa", []byte("new-blob"), "fp", func(host string, port int, keyType string, blob []byte, fp string) Verdict {
		return Abort
	}); err == nil {
		t.Fatalf("expected error on aborted mismatch")
	}
}

func TestVerifyProceedWithoutCaching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostkeys.cache")
	c, _ := Load(path)

	if err := c.Verify("example.com", 22, "ssh-rsa", []byte("blob"), "fp", func(string, int, string, []byte, string) Verdict {
		return Proceed
	}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, ok := c.Lookup("example.com", 22, "ssh-rsa"); ok {
		t.Fatalf("key should not have been cached on plain Proceed")
	}
}
