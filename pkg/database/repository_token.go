// Copyright 2025 Archive Origin
//
// Device token repository: one active token row per device, issuance and
// rotation are serialized by a row-level write.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TokenRepository handles device token persistence.
type TokenRepository struct {
	client *Client
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(client *Client) *TokenRepository {
	return &TokenRepository{client: client}
}

// Get fetches the device token row for deviceID.
func (r *TokenRepository) Get(ctx context.Context, deviceID string) (*DeviceToken, error) {
	query := `
		SELECT device_id, token, public_key, platform, app_version,
			issued_at, expires_at, force_renewal_required
		FROM device_tokens
		WHERE device_id = $1`

	t := &DeviceToken{}
	err := r.client.QueryRowContext(ctx, query, deviceID).Scan(
		&t.DeviceID, &t.Token, &t.PublicKey, &t.Platform, &t.AppVersion,
		&t.IssuedAt, &t.ExpiresAt, &t.ForceRenewalRequired,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching device token: %w", err)
	}
	return t, nil
}

// Upsert inserts a device's first token row, or overwrites it entirely on
// rotation/reuse. The caller decides the token value; this always writes the
// full row.
func (r *TokenRepository) Upsert(ctx context.Context, t *DeviceToken) error {
	query := `
		INSERT INTO device_tokens (
			device_id, token, public_key, platform, app_version,
			issued_at, expires_at, force_renewal_required
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			token = EXCLUDED.token,
			public_key = EXCLUDED.public_key,
			platform = EXCLUDED.platform,
			app_version = EXCLUDED.app_version,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			force_renewal_required = EXCLUDED.force_renewal_required`

	_, err := r.client.ExecContext(ctx, query,
		t.DeviceID, t.Token, t.PublicKey, t.Platform, t.AppVersion,
		t.IssuedAt, t.ExpiresAt, t.ForceRenewalRequired,
	)
	if err != nil {
		return fmt.Errorf("upserting device token: %w", err)
	}
	return nil
}
