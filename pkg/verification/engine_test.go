package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archive-origin/backend/pkg/database"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestCheckSignature_BothEmptyOK(t *testing.T) {
	entry := &database.LedgerEntry{}
	req := &Request{}
	if !checkSignature(req, entry) {
		t.Error("expected ok when neither side has a signature hash")
	}
}

func TestCheckSignature_LedgerHasClientMissing(t *testing.T) {
	h := "sha256:abc"
	entry := &database.LedgerEntry{DeviceSignatureHash: &h}
	req := &Request{}
	if checkSignature(req, entry) {
		t.Error("expected mismatch when ledger has signature but client doesn't")
	}
}

func TestCheckManifest_BothPresentMustMatch(t *testing.T) {
	h := "sha256:abc"
	entry := &database.LedgerEntry{ManifestHash: &h}
	req := &Request{ManifestHash: "sha256:different"}
	if checkManifest(req, entry) {
		t.Error("expected mismatch for differing manifest hashes")
	}
}

func TestCheckTimestamp_WithinLeadIsValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Engine{clock: fixedClock{t: now}}
	entry := &database.LedgerEntry{TimestampUTC: now.Add(60 * time.Second)}
	if !e.checkTimestamp(entry) {
		t.Error("expected valid timestamp within lead window")
	}
}

func TestCheckTimestamp_ExceedsLeadIsInvalid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Engine{clock: fixedClock{t: now}}
	entry := &database.LedgerEntry{TimestampUTC: now.Add(200 * time.Second)}
	if e.checkTimestamp(entry) {
		t.Error("expected invalid timestamp beyond lead window")
	}
}

func TestCheckManifestSummary_RejectsWhenNotAllowed(t *testing.T) {
	e := New(nil, nil, fixedClock{}, time.Minute)
	err := e.checkManifestSummary(map[string]interface{}{"title": "x"}, Identity{AllowManifestSummary: false})
	if !errors.Is(err, ErrManifestSummaryNotAllowed) {
		t.Errorf("err = %v, want ErrManifestSummaryNotAllowed", err)
	}
}

func TestCheckManifestSummary_RejectsDisallowedKey(t *testing.T) {
	e := New(nil, nil, fixedClock{}, time.Minute)
	err := e.checkManifestSummary(map[string]interface{}{"secret_field": "x"}, Identity{AllowManifestSummary: true})
	if !errors.Is(err, ErrManifestSummaryContainsDisallowed) {
		t.Errorf("err = %v, want ErrManifestSummaryContainsDisallowed", err)
	}
}

func TestCheckManifestSummary_AllowsWhitelistedKeys(t *testing.T) {
	e := New(nil, nil, fixedClock{}, time.Minute)
	err := e.checkManifestSummary(map[string]interface{}{"title": "x", "creator": "y"}, Identity{AllowManifestSummary: true})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluate_VerdictPriorityAttestationBeforeSignature(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Engine{clock: fixedClock{t: now}, now: func() time.Time { return now }}

	certHash := "sha256:cert"
	sigHash := "sha256:sig"
	entry := &database.LedgerEntry{
		ContentHash:         "sha256:content",
		AttestationCertHash: &certHash,
		DeviceSignatureHash: &sigHash,
		TimestampUTC:        now,
		ProofLevel:          "basic",
	}
	req := &Request{
		ContentHash:         "sha256:content",
		AttestationCertHash: "sha256:different-cert",
	}

	result, err := e.evaluate(context.Background(), req, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Reason != "attestation_revoked" {
		t.Errorf("reason = %q, want attestation_revoked", result.Reason)
	}
}

func TestEvaluate_VerifiedWhenAllPredicatesPass(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &Engine{clock: fixedClock{t: now}, now: func() time.Time { return now }}

	entry := &database.LedgerEntry{
		ContentHash:  "sha256:content",
		TimestampUTC: now,
		ProofLevel:   "attested",
	}
	req := &Request{ContentHash: "sha256:content"}

	result, err := e.evaluate(context.Background(), req, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Verdict != "verified" {
		t.Errorf("verdict = %q, want verified", result.Verdict)
	}
	if result.ProofLevel != "attested" {
		t.Errorf("proof_level = %q, want attested", result.ProofLevel)
	}
}
