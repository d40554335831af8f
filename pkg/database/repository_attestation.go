// Copyright 2025 Archive Origin
//
// Attestation certificate repository: ingest/upsert semantics and lookup by
// cert hash and serial number.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AttestationRepository handles attestation certificate persistence.
type AttestationRepository struct {
	client *Client
}

// NewAttestationRepository creates a new attestation repository.
func NewAttestationRepository(client *Client) *AttestationRepository {
	return &AttestationRepository{client: client}
}

// UpsertCertInput is the normalized ingest payload for one certificate.
type UpsertCertInput struct {
	CertHash     string
	PEM          string
	MetadataJSON []byte
	SerialNumber string
	Issuer       string
	CRLURLs      []string
}

// Upsert inserts a new certificate row or updates an existing one in place.
// revoked/revoked_at/created_at_utc are preserved across re-ingestion.
func (r *AttestationRepository) Upsert(ctx context.Context, input *UpsertCertInput) (*AttestationCertificate, error) {
	crlJSON, err := json.Marshal(input.CRLURLs)
	if err != nil {
		return nil, fmt.Errorf("encoding crl_urls: %w", err)
	}

	metadata := input.MetadataJSON
	if metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO attestation_certificates (
			cert_hash, pem, metadata_json, serial_number, issuer, crl_urls, created_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (cert_hash) DO UPDATE SET
			pem = EXCLUDED.pem,
			metadata_json = COALESCE(EXCLUDED.metadata_json, attestation_certificates.metadata_json),
			serial_number = EXCLUDED.serial_number,
			issuer = EXCLUDED.issuer,
			crl_urls = CASE WHEN EXCLUDED.crl_urls = '[]' THEN attestation_certificates.crl_urls ELSE EXCLUDED.crl_urls END
		RETURNING cert_hash, pem, metadata_json, serial_number, issuer, crl_urls,
			revoked, revoked_at, revocation_reason, last_checked_at, created_at_utc`

	cert := &AttestationCertificate{}
	var crlURLsRaw []byte
	err = r.client.QueryRowContext(ctx, query,
		input.CertHash, input.PEM, metadata, input.SerialNumber, input.Issuer, crlJSON,
	).Scan(
		&cert.CertHash, &cert.PEM, &cert.MetadataJSON, &cert.SerialNumber, &cert.Issuer, &crlURLsRaw,
		&cert.Revoked, &cert.RevokedAt, &cert.RevocationReason, &cert.LastCheckedAt, &cert.CreatedAtUTC,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting attestation certificate: %w", err)
	}
	if err := json.Unmarshal(crlURLsRaw, &cert.CRLURLs); err != nil {
		return nil, fmt.Errorf("decoding crl_urls: %w", err)
	}

	return cert, nil
}

// GetByHash fetches a certificate by its DER SHA-256 hash.
func (r *AttestationRepository) GetByHash(ctx context.Context, certHash string) (*AttestationCertificate, error) {
	query := `
		SELECT cert_hash, pem, metadata_json, serial_number, issuer, crl_urls,
			revoked, revoked_at, revocation_reason, last_checked_at, created_at_utc
		FROM attestation_certificates
		WHERE cert_hash = $1`

	cert := &AttestationCertificate{}
	var crlURLsRaw []byte
	err := r.client.QueryRowContext(ctx, query, certHash).Scan(
		&cert.CertHash, &cert.PEM, &cert.MetadataJSON, &cert.SerialNumber, &cert.Issuer, &crlURLsRaw,
		&cert.Revoked, &cert.RevokedAt, &cert.RevocationReason, &cert.LastCheckedAt, &cert.CreatedAtUTC,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAttestationCertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching attestation certificate: %w", err)
	}
	if err := json.Unmarshal(crlURLsRaw, &cert.CRLURLs); err != nil {
		return nil, fmt.Errorf("decoding crl_urls: %w", err)
	}
	return cert, nil
}

// ListForCRLRefresh returns every certificate's serial number and CRL URLs,
// used to build the union of URLs to fetch during a refresh pass.
func (r *AttestationRepository) ListForCRLRefresh(ctx context.Context) ([]*AttestationCertificate, error) {
	query := `
		SELECT cert_hash, serial_number, crl_urls, revoked
		FROM attestation_certificates`

	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing certificates for crl refresh: %w", err)
	}
	defer rows.Close()

	var out []*AttestationCertificate
	for rows.Next() {
		cert := &AttestationCertificate{}
		var crlURLsRaw []byte
		if err := rows.Scan(&cert.CertHash, &cert.SerialNumber, &crlURLsRaw, &cert.Revoked); err != nil {
			return nil, fmt.Errorf("scanning certificate row: %w", err)
		}
		if err := json.Unmarshal(crlURLsRaw, &cert.CRLURLs); err != nil {
			return nil, fmt.Errorf("decoding crl_urls: %w", err)
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

// MarkRevoked transitions a certificate to revoked=true, bumping last_checked_at.
// already-revoked certs are left in place except for last_checked_at.
func (r *AttestationRepository) MarkRevoked(ctx context.Context, tx *Tx, certHash, reason string, now time.Time) error {
	query := `
		UPDATE attestation_certificates
		SET revoked = true,
			revocation_reason = CASE WHEN revoked THEN revocation_reason ELSE $2 END,
			revoked_at = CASE WHEN revoked THEN revoked_at ELSE $3 END,
			last_checked_at = $3
		WHERE cert_hash = $1`

	_, err := tx.Tx().ExecContext(ctx, query, certHash, reason, now)
	if err != nil {
		return fmt.Errorf("marking certificate revoked: %w", err)
	}
	return nil
}

// BumpLastChecked updates last_checked_at without altering revocation state.
func (r *AttestationRepository) BumpLastChecked(ctx context.Context, tx *Tx, certHash string, now time.Time) error {
	_, err := tx.Tx().ExecContext(ctx, `UPDATE attestation_certificates SET last_checked_at = $2 WHERE cert_hash = $1`, certHash, now)
	if err != nil {
		return fmt.Errorf("bumping last_checked_at: %w", err)
	}
	return nil
}
