package keyfile

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestParsePEMRSAPrivateKeyPKCS1(t *testing.T) {
	priv := testRSAKey(t)
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})

	got, err := ParsePEMRSAPrivateKey(block)
	if err != nil {
		t.Fatalf("ParsePEMRSAPrivateKey: %v", err)
	}
	if got.D.Cmp(priv.D) != 0 {
		t.Fatalf("parsed key does not match original")
	}
}

func TestParsePEMRSAPrivateKeyPKCS8(t *testing.T) {
	priv := testRSAKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	got, err := ParsePEMRSAPrivateKey(block)
	if err != nil {
		t.Fatalf("ParsePEMRSAPrivateKey: %v", err)
	}
	if got.D.Cmp(priv.D) != 0 {
		t.Fatalf("parsed key does not match original")
	}
}

func TestParsePEMRSAPrivateKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePEMRSAPrivateKey([]byte("not a pem file")); err == nil {
		t.Fatalf("want error for non-PEM input")
	}
}
