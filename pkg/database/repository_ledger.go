// Copyright 2025 Archive Origin
//
// Ledger entry repository: the verification engine's three-way lookup by
// content hash, manifest hash, or device signature hash.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// LedgerRepository handles ledger entry persistence and lookup.
type LedgerRepository struct {
	client *Client
}

// NewLedgerRepository creates a new ledger entry repository.
func NewLedgerRepository(client *Client) *LedgerRepository {
	return &LedgerRepository{client: client}
}

const ledgerEntryColumns = `
	entry_id, content_hash, manifest_hash, device_signature_hash, attestation_cert_hash,
	timestamp_utc, proof_level, merkle_root, merkle_proof, entry_hash, sourced_from, created_at_utc`

func scanLedgerEntry(row interface{ Scan(...interface{}) error }) (*LedgerEntry, error) {
	e := &LedgerEntry{}
	err := row.Scan(
		&e.EntryID, &e.ContentHash, &e.ManifestHash, &e.DeviceSignatureHash, &e.AttestationCertHash,
		&e.TimestampUTC, &e.ProofLevel, &e.MerkleRoot, &e.MerkleProof, &e.EntryHash, &e.SourcedFrom, &e.CreatedAtUTC,
	)
	if err == sql.ErrNoRows {
		return nil, ErrLedgerEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ledger entry: %w", err)
	}
	return e, nil
}

// GetByContentHash fetches the most recent ledger entry matching content_hash.
func (r *LedgerRepository) GetByContentHash(ctx context.Context, hash string) (*LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE content_hash = $1 ORDER BY created_at_utc DESC LIMIT 1`
	return scanLedgerEntry(r.client.QueryRowContext(ctx, query, hash))
}

// GetByManifestHash fetches the most recent ledger entry matching manifest_hash.
func (r *LedgerRepository) GetByManifestHash(ctx context.Context, hash string) (*LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE manifest_hash = $1 ORDER BY created_at_utc DESC LIMIT 1`
	return scanLedgerEntry(r.client.QueryRowContext(ctx, query, hash))
}

// GetByDeviceSignatureHash fetches the most recent ledger entry matching device_signature_hash.
func (r *LedgerRepository) GetByDeviceSignatureHash(ctx context.Context, hash string) (*LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE device_signature_hash = $1 ORDER BY created_at_utc DESC LIMIT 1`
	return scanLedgerEntry(r.client.QueryRowContext(ctx, query, hash))
}

// Lookup tries content_hash, then manifest_hash, then device_signature_hash,
// in that order, returning the first match.
func (r *LedgerRepository) Lookup(ctx context.Context, contentHash, manifestHash, deviceSignatureHash string) (*LedgerEntry, error) {
	if contentHash != "" {
		if e, err := r.GetByContentHash(ctx, contentHash); err == nil {
			return e, nil
		} else if err != ErrLedgerEntryNotFound {
			return nil, err
		}
	}
	if manifestHash != "" {
		if e, err := r.GetByManifestHash(ctx, manifestHash); err == nil {
			return e, nil
		} else if err != ErrLedgerEntryNotFound {
			return nil, err
		}
	}
	if deviceSignatureHash != "" {
		if e, err := r.GetByDeviceSignatureHash(ctx, deviceSignatureHash); err == nil {
			return e, nil
		} else if err != ErrLedgerEntryNotFound {
			return nil, err
		}
	}
	return nil, ErrLedgerEntryNotFound
}

// Create persists a new ledger entry.
func (r *LedgerRepository) Create(ctx context.Context, e *LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			entry_id, content_hash, manifest_hash, device_signature_hash, attestation_cert_hash,
			timestamp_utc, proof_level, merkle_root, merkle_proof, entry_hash, sourced_from, created_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at_utc`

	return r.client.QueryRowContext(ctx, query,
		e.EntryID, e.ContentHash, e.ManifestHash, e.DeviceSignatureHash, e.AttestationCertHash,
		e.TimestampUTC, e.ProofLevel, e.MerkleRoot, e.MerkleProof, e.EntryHash, e.SourcedFrom,
	).Scan(&e.CreatedAtUTC)
}
