// Copyright 2025 Archive Origin
//
// Capture record repository: lock-proof writes and the sealer's pending-batch
// sweep and sealing update.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CaptureRepository handles capture record persistence.
type CaptureRepository struct {
	client *Client
}

// NewCaptureRepository creates a new capture record repository.
func NewCaptureRepository(client *Client) *CaptureRepository {
	return &CaptureRepository{client: client}
}

// Create persists a new capture record with sealing fields NULL.
func (r *CaptureRepository) Create(ctx context.Context, rec *CaptureRecord) error {
	query := `
		INSERT INTO capture_records (
			record_id, shortcode, verify_url, asset_hash, capture_time_utc,
			device_id, device_pubkey, signature, geo_lat, geo_lon, geo_accuracy_m,
			created_at_utc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		RETURNING created_at_utc`

	return r.client.QueryRowContext(ctx, query,
		rec.RecordID, rec.Shortcode, rec.VerifyURL, rec.AssetHash, rec.CaptureTimeUTC,
		rec.DeviceID, rec.DevicePubkey, rec.Signature, rec.GeoLat, rec.GeoLon, rec.GeoAccuracyM,
	).Scan(&rec.CreatedAtUTC)
}

// Get fetches a capture record by id.
func (r *CaptureRepository) Get(ctx context.Context, recordID string) (*CaptureRecord, error) {
	query := `
		SELECT record_id, shortcode, verify_url, asset_hash, capture_time_utc,
			device_id, device_pubkey, signature, geo_lat, geo_lon, geo_accuracy_m,
			merkle_batch_id, merkle_root_hash, merkle_sealed_at_utc, created_at_utc
		FROM capture_records
		WHERE record_id = $1`

	rec := &CaptureRecord{}
	err := r.client.QueryRowContext(ctx, query, recordID).Scan(
		&rec.RecordID, &rec.Shortcode, &rec.VerifyURL, &rec.AssetHash, &rec.CaptureTimeUTC,
		&rec.DeviceID, &rec.DevicePubkey, &rec.Signature, &rec.GeoLat, &rec.GeoLon, &rec.GeoAccuracyM,
		&rec.MerkleBatchID, &rec.MerkleRootHash, &rec.MerkleSealedAtUTC, &rec.CreatedAtUTC,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCaptureRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching capture record: %w", err)
	}
	return rec, nil
}

// ListUnsealed returns every record with merkle_batch_id IS NULL, ordered by
// created_at_utc ascending and record_id as a stable tie-break.
func (r *CaptureRepository) ListUnsealed(ctx context.Context, tx *Tx) ([]*CaptureRecord, error) {
	query := `
		SELECT record_id, shortcode, verify_url, asset_hash, capture_time_utc,
			device_id, device_pubkey, signature, geo_lat, geo_lon, geo_accuracy_m,
			merkle_batch_id, merkle_root_hash, merkle_sealed_at_utc, created_at_utc
		FROM capture_records
		WHERE merkle_batch_id IS NULL AND asset_hash IS NOT NULL
		ORDER BY created_at_utc ASC, record_id ASC`

	rows, err := tx.Tx().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing unsealed capture records: %w", err)
	}
	defer rows.Close()

	var out []*CaptureRecord
	for rows.Next() {
		rec := &CaptureRecord{}
		if err := rows.Scan(
			&rec.RecordID, &rec.Shortcode, &rec.VerifyURL, &rec.AssetHash, &rec.CaptureTimeUTC,
			&rec.DeviceID, &rec.DevicePubkey, &rec.Signature, &rec.GeoLat, &rec.GeoLon, &rec.GeoAccuracyM,
			&rec.MerkleBatchID, &rec.MerkleRootHash, &rec.MerkleSealedAtUTC, &rec.CreatedAtUTC,
		); err != nil {
			return nil, fmt.Errorf("scanning capture record row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Seal updates a record's sealing fields within the sealer's transaction.
func (r *CaptureRepository) Seal(ctx context.Context, tx *Tx, recordID, batchID, rootHash string, sealedAt interface{}) error {
	query := `
		UPDATE capture_records
		SET merkle_batch_id = $2, merkle_root_hash = $3, merkle_sealed_at_utc = $4
		WHERE record_id = $1`

	_, err := tx.Tx().ExecContext(ctx, query, recordID, batchID, rootHash, sealedAt)
	if err != nil {
		return fmt.Errorf("sealing capture record: %w", err)
	}
	return nil
}
