// Copyright 2025 Archive Origin
//
// Entity types persisted by the Archive Origin backend.

package database

import "time"

// DeviceToken is the bearer token bound to a single device's public key.
type DeviceToken struct {
	DeviceID              string
	Token                 string
	PublicKey             string
	Platform              string
	AppVersion            string
	IssuedAt              time.Time
	ExpiresAt             time.Time
	ForceRenewalRequired  bool
}

// CaptureRecord is an immutable lock-proof submission, optionally sealed into
// a Merkle batch.
type CaptureRecord struct {
	RecordID          string
	Shortcode         string
	VerifyURL         string
	AssetHash         string
	CaptureTimeUTC    time.Time
	DeviceID          string
	DevicePubkey      string
	Signature         string
	GeoLat            *string
	GeoLon            *string
	GeoAccuracyM      *string
	MerkleBatchID     *string
	MerkleRootHash    *string
	MerkleSealedAtUTC *time.Time
	CreatedAtUTC      time.Time
}

// Sealed reports whether every sealing field is set.
func (r *CaptureRecord) Sealed() bool {
	return r.MerkleBatchID != nil && r.MerkleRootHash != nil && r.MerkleSealedAtUTC != nil
}

// LedgerEntry is a searchable provenance record used by the verification engine.
type LedgerEntry struct {
	EntryID             string
	ContentHash         string
	ManifestHash        *string
	DeviceSignatureHash *string
	AttestationCertHash *string
	TimestampUTC        time.Time
	ProofLevel          string
	MerkleRoot          *string
	MerkleProof         []byte // raw JSON blob
	EntryHash           string
	SourcedFrom         string
	CreatedAtUTC        time.Time
}

// AttestationCertificate is a platform-issued certificate identified by the
// SHA-256 of its DER encoding.
type AttestationCertificate struct {
	CertHash         string
	PEM              string
	MetadataJSON     []byte
	SerialNumber     string
	Issuer           string
	CRLURLs          []string
	Revoked          bool
	RevokedAt        *time.Time
	RevocationReason *string
	LastCheckedAt    *time.Time
	CreatedAtUTC     time.Time
}
