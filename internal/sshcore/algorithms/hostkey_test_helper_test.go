package algorithms

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

// testRSAKey returns a small (test-only) RSA key: generating a real-size key
// on every test run would be needlessly slow for pure wire-format coverage.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate test rsa key: %v", err)
	}
	return priv
}
