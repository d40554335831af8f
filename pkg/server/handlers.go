// Copyright 2025 Archive Origin
//
// Route handlers for device enrolment, lock-proof writes, verification, raw
// ledger lookup, and certificate metadata.

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/lockproof"
	"github.com/archive-origin/backend/pkg/metrics"
	"github.com/archive-origin/backend/pkg/token"
	"github.com/archive-origin/backend/pkg/verification"
)

type enrollRequestBody struct {
	DeviceID         string `json:"device_id"`
	PublicKey        string `json:"public_key"`
	Platform         string `json:"platform"`
	AppVersion       string `json:"app_version"`
	Force            bool   `json:"force"`
	CurrentToken     string `json:"current_token"`
	DeviceCheckToken string `json:"devicecheck_token"`
	BundleID         string `json:"bundle_id"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}

	var body enrollRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	result, err := s.tokens.Enroll(r.Context(), &token.EnrollRequest{
		DeviceID:         body.DeviceID,
		PublicKey:        body.PublicKey,
		Platform:         body.Platform,
		AppVersion:       body.AppVersion,
		Force:            body.Force,
		CurrentToken:     body.CurrentToken,
		DeviceCheckToken: body.DeviceCheckToken,
		BundleID:         body.BundleID,
	})
	if err != nil {
		status := enrollErrorStatus(err)
		writeError(w, status, err.Error(), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      result.Token,
		"issued_at":  result.IssuedAt,
		"expires_at": result.ExpiresAt,
	})
}

func enrollErrorStatus(err error) int {
	switch {
	case errors.Is(err, token.ErrPublicKeyInvalid):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, token.ErrDeviceCheckTokenRequired), errors.Is(err, token.ErrBundleIDRequired), errors.Is(err, token.ErrBundleIDNotAllowed):
		return http.StatusBadRequest
	case strings.HasPrefix(err.Error(), "devicecheck_"):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type lockProofRequestBody struct {
	DeviceID       string  `json:"device_id"`
	DevicePubkey   string  `json:"device_pubkey"`
	AssetHash      string  `json:"asset_hash"`
	CaptureTimeUTC string  `json:"capture_time_utc"`
	Signature      string  `json:"signature"`
	GeoLat         *string `json:"geo_lat"`
	GeoLon         *string `json:"geo_lon"`
	GeoAccuracyM   *string `json:"geo_accuracy_m"`
}

func (s *Server) handleLockProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}

	bearer := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		bearer = strings.TrimPrefix(authz, "Bearer ")
	}

	var body lockProofRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req := &lockproof.Request{
		BearerToken:        bearer,
		HeaderDeviceID:     r.Header.Get("X-Device-ID"),
		HeaderDevicePubkey: r.Header.Get("X-Device-PublicKey"),
		DeviceID:           body.DeviceID,
		DevicePubkey:       body.DevicePubkey,
		AssetHash:          body.AssetHash,
		CaptureTimeUTC:     body.CaptureTimeUTC,
		Signature:          body.Signature,
		GeoLat:             body.GeoLat,
		GeoLon:             body.GeoLon,
		GeoAccuracyM:       body.GeoAccuracyM,
	}

	result, err := s.lockProofs.Write(r.Context(), req)
	if err != nil {
		status := lockProofErrorStatus(err)
		writeError(w, status, err.Error(), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "LOCKED",
		"record_id":  result.RecordID,
		"shortcode":  result.Shortcode,
		"verify_url": result.VerifyURL,
		"merkle": map[string]interface{}{
			"batch_id":       nil,
			"root_hash":      nil,
			"sealed_at_utc":  nil,
		},
	})
}

func lockProofErrorStatus(err error) int {
	switch {
	case errors.Is(err, lockproof.ErrMissingOrInvalidAuth), errors.Is(err, lockproof.ErrInvalidTokenOrDevice), errors.Is(err, lockproof.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, lockproof.ErrPublicKeyMismatch):
		return http.StatusForbidden
	case errors.Is(err, lockproof.ErrDeviceIDMismatch), errors.Is(err, lockproof.ErrDevicePubkeyMismatch), errors.Is(err, lockproof.ErrInvalidSignature), errors.Is(err, lockproof.ErrInvalidCaptureTime):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type verifyRequestBody struct {
	ContentHash         string                 `json:"content_hash"`
	ManifestHash        string                 `json:"manifest_hash"`
	DeviceSignatureHash string                 `json:"device_signature_hash"`
	AttestationCertHash string                 `json:"attestation_cert_hash"`
	ClientNonce         string                 `json:"client_nonce"`
	ManifestSummary     map[string]interface{} `json:"manifest_summary"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(bodyBytes, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	var body verifyRequestBody
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	identity := identityFromContext(r.Context())

	req := &verification.Request{
		ContentHash:         body.ContentHash,
		ManifestHash:        body.ManifestHash,
		DeviceSignatureHash: body.DeviceSignatureHash,
		AttestationCertHash: body.AttestationCertHash,
		ClientNonce:         body.ClientNonce,
		ManifestSummary:     body.ManifestSummary,
		Raw:                 raw,
	}

	result, err := s.verifier.Verify(r.Context(), req, verification.Identity{
		Authenticated:        identity.Authenticated,
		AllowManifestSummary: identity.AllowManifestSummary,
	})
	if err != nil {
		status, code := verifyErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	metrics.VerificationVerdictsTotal.WithLabelValues(result.Verdict).Inc()
	writeJSON(w, http.StatusOK, result)
}

func verifyErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, verification.ErrReplayDetected):
		return http.StatusTooManyRequests, "replay_detected"
	case errors.Is(err, verification.ErrMediaPayloadNotAllowed):
		return http.StatusBadRequest, "media_payload_not_allowed"
	case errors.Is(err, verification.ErrBinaryPayloadNotAllowed):
		return http.StatusBadRequest, "binary_payload_not_allowed"
	case errors.Is(err, verification.ErrUnexpectedFieldSize):
		return http.StatusBadRequest, "unexpected_field_size"
	case errors.Is(err, verification.ErrManifestSummaryNotAllowed):
		return http.StatusForbidden, "manifest_summary_not_allowed"
	case errors.Is(err, verification.ErrManifestSummaryContainsDisallowed):
		return http.StatusBadRequest, "manifest_summary_contains_disallowed_fields"
	case errors.Is(err, verification.ErrManifestSummaryTooLarge):
		return http.StatusBadRequest, "manifest_summary_too_large"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type ledgerLookupRequestBody struct {
	ContentHash         string `json:"content_hash"`
	ManifestHash        string `json:"manifest_hash"`
	DeviceSignatureHash string `json:"device_signature_hash"`
}

func (s *Server) handleLedgerLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}

	identity := identityFromContext(r.Context())
	if !identity.Authenticated {
		writeError(w, http.StatusUnauthorized, "api_key_required", "an API key is required for this endpoint")
		return
	}

	var body ledgerLookupRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	entry, err := s.verifier.Lookup(r.Context(), body.ContentHash, body.ManifestHash, body.DeviceSignatureHash)
	if err == database.ErrLedgerEntryNotFound {
		writeError(w, http.StatusNotFound, "ledger_not_found", "no matching ledger entry")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up ledger entry")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetCert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is allowed")
		return
	}

	certHash := strings.TrimPrefix(r.URL.Path, "/api/v1/certs/")
	if certHash == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "cert_hash is required")
		return
	}

	cert, err := s.attestations.GetByHash(r.Context(), certHash)
	if err == database.ErrAttestationCertNotFound {
		writeError(w, http.StatusNotFound, "cert_not_found", "no certificate with that hash")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to look up certificate")
		return
	}

	identity := identityFromContext(r.Context())
	payload := map[string]interface{}{
		"cert_hash":         cert.CertHash,
		"serial_number":     cert.SerialNumber,
		"issuer":            cert.Issuer,
		"revoked":           cert.Revoked,
		"revocation_reason": cert.RevocationReason,
		"revoked_at":        cert.RevokedAt,
		"last_checked_at":   cert.LastCheckedAt,
		"created_at_utc":    cert.CreatedAtUTC,
	}
	if identity.Authenticated {
		payload["pem"] = cert.PEM
	}

	writeJSON(w, http.StatusOK, payload)
}
