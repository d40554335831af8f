// Copyright 2025 Archive Origin
//
// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrDeviceTokenNotFound is returned when no device token row exists for a device.
	ErrDeviceTokenNotFound = errors.New("device token not found")

	// ErrCaptureRecordNotFound is returned when a capture record is not found.
	ErrCaptureRecordNotFound = errors.New("capture record not found")

	// ErrLedgerEntryNotFound is returned when a ledger entry is not found.
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")

	// ErrAttestationCertNotFound is returned when an attestation certificate is not found.
	ErrAttestationCertNotFound = errors.New("attestation certificate not found")
)
