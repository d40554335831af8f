// Copyright 2025 Archive Origin
//
// Verification engine: payload hygiene, manifest summary whitelisting,
// replay protection, ledger lookup, and verdict evaluation (C10).

package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/archive-origin/backend/pkg/database"
)

// Sentinel errors, mapped to stable HTTP codes at the boundary.
var (
	ErrReplayDetected                    = errors.New("replay_detected")
	ErrMediaPayloadNotAllowed            = errors.New("media_payload_not_allowed")
	ErrBinaryPayloadNotAllowed           = errors.New("binary_payload_not_allowed")
	ErrUnexpectedFieldSize               = errors.New("unexpected_field_size")
	ErrManifestSummaryNotAllowed         = errors.New("manifest_summary_not_allowed")
	ErrManifestSummaryContainsDisallowed = errors.New("manifest_summary_contains_disallowed_fields")
	ErrManifestSummaryTooLarge           = errors.New("manifest_summary_too_large")
)

var defaultManifestWhitelist = map[string]bool{
	"title": true, "creator": true, "capture_time_utc": true, "description": true,
}

const defaultTimestampLeadSeconds = 120
const defaultProofExpiry = 5 * time.Minute

var allowedProofLevels = map[string]bool{"basic": true, "attested": true, "rooted": true}

// Identity is the calling client's authorization context, as produced by
// the auth package.
type Identity struct {
	Authenticated        bool
	AllowManifestSummary bool
}

// Request is a decoded verification payload.
type Request struct {
	ContentHash         string
	ManifestHash        string
	DeviceSignatureHash string
	AttestationCertHash string
	ClientNonce         string
	ManifestSummary     map[string]interface{}

	// Raw is the full decoded JSON body, used for the recursive hygiene walk.
	Raw map[string]interface{}
}

// Result is the outcome of a verify() call.
type Result struct {
	Verdict             string   `json:"verdict"`
	Reason              string   `json:"reason,omitempty"`
	ContentMatch        bool     `json:"content_match"`
	AttestationValid    bool     `json:"attestation_valid"`
	SignatureMatch      bool     `json:"signature_match"`
	ManifestMatch       bool     `json:"manifest_match"`
	TimestampValid      bool     `json:"timestamp_valid"`
	LedgerFound         bool     `json:"ledger_found"`
	ProofLevel          string   `json:"proof_level,omitempty"`
	ExpiresAtUTC         string   `json:"expires_at_utc,omitempty"`
	Notes               []string `json:"notes,omitempty"`
}

// Clock is the trusted-time source used for the timestamp predicate.
type Clock interface {
	Now() time.Time
}

// Engine implements the verification engine (C10).
type Engine struct {
	ledger       *database.LedgerRepository
	attestations *database.AttestationRepository
	clock        Clock

	replay            *replayCache
	manifestWhitelist map[string]bool
	manifestMaxBytes  int

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithManifestWhitelist overrides the default manifest_summary key whitelist.
func WithManifestWhitelist(keys []string) Option {
	return func(e *Engine) {
		m := make(map[string]bool, len(keys))
		for _, k := range keys {
			m[k] = true
		}
		e.manifestWhitelist = m
	}
}

// WithManifestMaxBytes overrides the default manifest_summary size cap.
func WithManifestMaxBytes(n int) Option {
	return func(e *Engine) { e.manifestMaxBytes = n }
}

// WithClock overrides the engine's wall-clock source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(ledger *database.LedgerRepository, attestations *database.AttestationRepository, clock Clock, replayTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		ledger:            ledger,
		attestations:      attestations,
		clock:             clock,
		replay:            newReplayCache(replayTTL),
		manifestWhitelist: defaultManifestWhitelist,
		manifestMaxBytes:  4096,
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify runs the full verification pipeline: hygiene, manifest check,
// replay guard, lookup, predicate evaluation, and verdict mapping.
func (e *Engine) Verify(ctx context.Context, req *Request, identity Identity) (*Result, error) {
	if err := checkHygiene(req.Raw, false); err != nil {
		return nil, classifyHygieneError(err)
	}

	if len(req.ManifestSummary) > 0 {
		if err := e.checkManifestSummary(req.ManifestSummary, identity); err != nil {
			return nil, err
		}
	}

	replayKey := req.ContentHash
	if req.ClientNonce != "" {
		replayKey = req.ClientNonce + ":" + req.ContentHash
	}
	if e.replay.seenOrRecord(replayKey) {
		return nil, ErrReplayDetected
	}

	entry, err := e.ledger.Lookup(ctx, req.ContentHash, req.ManifestHash, req.DeviceSignatureHash)
	if err == database.ErrLedgerEntryNotFound {
		return &Result{Verdict: "not_verified", Reason: "ledger_not_found", LedgerFound: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up ledger entry: %w", err)
	}

	return e.evaluate(ctx, req, entry)
}

// Lookup performs the raw ledger lookup without hygiene/replay/predicate
// evaluation, for the lookup-only endpoint.
func (e *Engine) Lookup(ctx context.Context, contentHash, manifestHash, deviceSignatureHash string) (*database.LedgerEntry, error) {
	return e.ledger.Lookup(ctx, contentHash, manifestHash, deviceSignatureHash)
}

func (e *Engine) evaluate(ctx context.Context, req *Request, entry *database.LedgerEntry) (*Result, error) {
	result := &Result{LedgerFound: true}

	result.ContentMatch = req.ContentHash == "" || entry.ContentHash == req.ContentHash

	attestationOK, notes := e.checkAttestation(ctx, req, entry)
	result.AttestationValid = attestationOK
	result.Notes = append(result.Notes, notes...)

	result.SignatureMatch = checkSignature(req, entry)
	result.ManifestMatch = checkManifest(req, entry)
	result.TimestampValid = e.checkTimestamp(entry)

	switch {
	case !result.AttestationValid:
		result.Verdict, result.Reason = "not_verified", "attestation_revoked"
	case !result.SignatureMatch || !result.ManifestMatch:
		result.Verdict, result.Reason = "not_verified", "signature_mismatch"
	case !result.TimestampValid:
		result.Verdict, result.Reason = "not_verified", "timestamp_mismatch"
	case !result.ContentMatch:
		result.Verdict, result.Reason = "not_verified", "ledger_not_found"
	default:
		result.Verdict = "verified"
	}

	if result.Verdict == "verified" {
		proofLevel := entry.ProofLevel
		if !allowedProofLevels[proofLevel] {
			proofLevel = "basic"
		}
		result.ProofLevel = proofLevel
		result.ExpiresAtUTC = e.now().Add(defaultProofExpiry).Format(time.RFC3339)
	}

	if len(result.Notes) > 4 {
		result.Notes = result.Notes[:4]
	}

	return result, nil
}

func (e *Engine) checkAttestation(ctx context.Context, req *Request, entry *database.LedgerEntry) (bool, []string) {
	expected := ""
	if entry.AttestationCertHash != nil {
		expected = *entry.AttestationCertHash
	}
	if req.AttestationCertHash != expected {
		return false, []string{"attestation_cert_hash mismatch"}
	}
	if expected == "" {
		return true, nil
	}

	cert, err := e.attestations.GetByHash(ctx, expected)
	if err != nil {
		return false, []string{"attestation certificate not found"}
	}
	if cert.Revoked {
		return false, []string{"attestation certificate has been revoked"}
	}
	return true, nil
}

func checkSignature(req *Request, entry *database.LedgerEntry) bool {
	ledgerHash := ""
	if entry.DeviceSignatureHash != nil {
		ledgerHash = *entry.DeviceSignatureHash
	}
	if ledgerHash == "" {
		return true
	}
	if req.DeviceSignatureHash == "" {
		return false
	}
	return ledgerHash == req.DeviceSignatureHash
}

func checkManifest(req *Request, entry *database.LedgerEntry) bool {
	ledgerHash := ""
	if entry.ManifestHash != nil {
		ledgerHash = *entry.ManifestHash
	}
	if ledgerHash == "" || req.ManifestHash == "" {
		return true
	}
	return ledgerHash == req.ManifestHash
}

func (e *Engine) checkTimestamp(entry *database.LedgerEntry) bool {
	trusted := e.clock.Now()
	lead := entry.TimestampUTC.Sub(trusted)
	return lead <= defaultTimestampLeadSeconds*time.Second
}

func (e *Engine) checkManifestSummary(summary map[string]interface{}, identity Identity) error {
	if !identity.AllowManifestSummary {
		return ErrManifestSummaryNotAllowed
	}
	for key := range summary {
		if !e.manifestWhitelist[strings.ToLower(key)] {
			return ErrManifestSummaryContainsDisallowed
		}
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding manifest_summary: %w", err)
	}
	if len(encoded) > e.manifestMaxBytes {
		return ErrManifestSummaryTooLarge
	}
	return nil
}

func classifyHygieneError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "byte-typed"):
		return fmt.Errorf("%w: %s", ErrBinaryPayloadNotAllowed, msg)
	case strings.Contains(msg, "exceeds"):
		return fmt.Errorf("%w: %s", ErrUnexpectedFieldSize, msg)
	default:
		return fmt.Errorf("%w: %s", ErrMediaPayloadNotAllowed, msg)
	}
}
