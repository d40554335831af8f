package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

// selfSignedPEM generates a throwaway self-signed certificate at test-run
// time, since the Go toolchain cannot be invoked to pre-generate fixtures.
func selfSignedPEM(t *testing.T, cn string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(12345),
		Subject:      pkix.Name{CommonName: cn},
		Issuer:       pkix.Name{CommonName: "Test Issuer"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		CRLDistributionPoints: []string{"https://crl.example.com/test.crl"},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestIngestPEM_RejectsGarbage(t *testing.T) {
	s := New(nil)
	_, err := s.IngestPEM(nil, []byte("not a certificate"), "test")
	if err == nil {
		t.Error("expected error for non-PEM input")
	}
}

func TestSelfSignedPEM_FixtureFields(t *testing.T) {
	pemBytes := selfSignedPEM(t, "device.example.com")
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		t.Fatal("failed to decode generated PEM fixture")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parsing generated fixture: %v", err)
	}
	if cert.Subject.CommonName != "device.example.com" {
		t.Errorf("CommonName = %q, want device.example.com", cert.Subject.CommonName)
	}
	if len(cert.CRLDistributionPoints) != 1 {
		t.Errorf("expected 1 CRL distribution point, got %d", len(cert.CRLDistributionPoints))
	}
}

func TestCertExtensions_RecognizedSuffixes(t *testing.T) {
	for _, ext := range []string{".pem", ".crt", ".cer"} {
		if !certExtensions[ext] {
			t.Errorf("expected %s to be a recognized certificate extension", ext)
		}
	}
	if certExtensions[".txt"] {
		t.Error(".txt should not be a recognized certificate extension")
	}
}
