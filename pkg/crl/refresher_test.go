package crl

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/archive-origin/backend/pkg/database"
)

func TestCollectURLs_DedupesAndUnions(t *testing.T) {
	r := &Refresher{configuredURLs: []string{"https://crl.example.com/a.crl", "https://crl.example.com/a.crl"}}
	certs := []*database.AttestationCertificate{
		{CertHash: "c1", CRLURLs: []string{"https://crl.example.com/a.crl", "https://crl.example.com/b.crl"}},
	}
	urls := r.collectURLs(certs)
	if len(urls) != 2 {
		t.Fatalf("expected 2 deduped urls, got %d: %v", len(urls), urls)
	}
}

func TestFetchAndParse_RejectsGarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not a crl"))
	}))
	defer srv.Close()

	r := New(nil, nil, nil)
	_, err := r.fetchAndParse(context.Background(), srv.URL)
	if err == nil {
		t.Error("expected error parsing garbage crl body")
	}
}

func TestFetchAndParse_RejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(nil, nil, nil)
	_, err := r.fetchAndParse(context.Background(), srv.URL)
	if err == nil {
		t.Error("expected error for 404 response")
	}
}

// TestFetchAndParse_SerialFormatMatchesAttestationService pins the revoked
// serial encoding (upper-hex Text(16), no byte padding) to the same format
// attestation.Service.IngestPEM uses for SerialNumber, so a serial whose
// minimal hex representation has an odd digit count still matches on both
// sides.
func TestFetchAndParse_SerialFormatMatchesAttestationService(t *testing.T) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test CA"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:         true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating CA cert: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parsing CA cert: %v", err)
	}

	// 0xABC's minimal byte representation is 2 bytes (0x0A, 0xBC): a naive
	// hex.EncodeToString(Bytes()) would yield "0ABC", not "ABC".
	revokedSerial := big.NewInt(0xABC)
	crlTemplate := &x509.RevocationList{
		Number: big.NewInt(1),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: revokedSerial, RevocationTime: time.Now()},
		},
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTemplate, caCert, caKey)
	if err != nil {
		t.Fatalf("creating CRL: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(crlDER)
	}))
	defer srv.Close()

	r := New(nil, nil, nil)
	serials, err := r.fetchAndParse(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(serials) != 1 || serials[0] != "ABC" {
		t.Errorf("serials = %v, want [\"ABC\"] (matching SerialNumber.Text(16) on the attestation store side)", serials)
	}
}
