package keyfile

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParsePEMRSAPrivateKey decodes a PKCS#1 or PKCS#8 PEM-encoded RSA private
// key, the form most credential stores and "paste your key" UIs hand
// over. It exists alongside the PPK and SSH-1 on-disk formats for
// callers that already have key material in the universal PEM shape
// rather than a file on disk in one of this module's own formats.
func ParsePEMRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keyfile: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keyfile: parse PEM private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keyfile: PEM private key is not RSA")
	}
	return rsaKey, nil
}
