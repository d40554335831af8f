// Copyright 2025 Archive Origin
//
// Attestation certificate store: ingests platform-issued PEM certificates,
// normalizes their identifying fields, and upserts them for later CRL
// refresh and verification lookups.

package attestation

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/archive-origin/backend/pkg/database"
)

// Service ingests attestation certificates into the certificate store (C3).
type Service struct {
	attestations *database.AttestationRepository
	logger       *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an attestation Service.
func New(attestations *database.AttestationRepository, opts ...Option) *Service {
	s := &Service{
		attestations: attestations,
		logger:       log.New(log.Writer(), "[Attestation] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestResult reports one ingestion call's outcome.
type IngestResult struct {
	CertHash string
	Cert     *database.AttestationCertificate
}

// IngestPEM parses a single PEM-encoded certificate, normalizes its fields,
// and upserts it into the store. source is recorded as ingest metadata.
func (s *Service) IngestPEM(ctx context.Context, pemBytes []byte, source string) (*IngestResult, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate block found")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	sum := sha256.Sum256(block.Bytes)
	certHash := strings.ToUpper(hex.EncodeToString(sum[:]))
	serial := strings.ToUpper(cert.SerialNumber.Text(16))

	metadata, err := json.Marshal(map[string]string{"source": source})
	if err != nil {
		return nil, fmt.Errorf("encoding ingest metadata: %w", err)
	}

	input := &database.UpsertCertInput{
		CertHash:     certHash,
		PEM:          string(pem.EncodeToMemory(block)),
		MetadataJSON: metadata,
		SerialNumber: serial,
		Issuer:       cert.Issuer.String(),
		CRLURLs:      cert.CRLDistributionPoints,
	}

	stored, err := s.attestations.Upsert(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("upserting certificate %s: %w", certHash, err)
	}

	return &IngestResult{CertHash: certHash, Cert: stored}, nil
}

// IngestDirectoryResult summarizes a bulk directory ingestion pass.
type IngestDirectoryResult struct {
	Ingested []*IngestResult
	Skipped  []string // paths that failed to parse, logged but not fatal
}

// certExtensions lists the case-insensitive file extensions treated as
// certificate files during bulk directory ingest.
var certExtensions = map[string]bool{".pem": true, ".crt": true, ".cer": true}

// IngestDirectory walks dir (non-recursively) and ingests every file whose
// extension matches a known certificate suffix. Files that fail to parse are
// skipped and logged rather than aborting the whole pass.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (*IngestDirectoryResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading certificate directory: %w", err)
	}

	result := &IngestDirectoryResult{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !certExtensions[ext] {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Printf("skipping %s: %v", path, err)
			result.Skipped = append(result.Skipped, path)
			continue
		}

		ingested, err := s.IngestPEM(ctx, data, path)
		if err != nil {
			s.logger.Printf("skipping %s: %v", path, err)
			result.Skipped = append(result.Skipped, path)
			continue
		}
		result.Ingested = append(result.Ingested, ingested)
	}

	return result, nil
}

// GetByHash fetches a stored certificate by its DER SHA-256 hash.
func (s *Service) GetByHash(ctx context.Context, certHash string) (*database.AttestationCertificate, error) {
	return s.attestations.GetByHash(ctx, certHash)
}
