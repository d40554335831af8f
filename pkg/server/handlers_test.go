package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/archive-origin/backend/pkg/lockproof"
	"github.com/archive-origin/backend/pkg/token"
	"github.com/archive-origin/backend/pkg/verification"
)

func TestEnrollErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{token.ErrPublicKeyInvalid, http.StatusBadRequest},
		{token.ErrTokenMismatch, http.StatusForbidden},
		{token.ErrDeviceCheckTokenRequired, http.StatusBadRequest},
		{token.ErrBundleIDNotAllowed, http.StatusBadRequest},
	}
	for _, c := range cases {
		if got := enrollErrorStatus(c.err); got != c.want {
			t.Errorf("enrollErrorStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestLockProofErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lockproof.ErrMissingOrInvalidAuth, http.StatusUnauthorized},
		{lockproof.ErrTokenExpired, http.StatusUnauthorized},
		{lockproof.ErrPublicKeyMismatch, http.StatusForbidden},
		{lockproof.ErrDeviceIDMismatch, http.StatusBadRequest},
		{lockproof.ErrInvalidSignature, http.StatusBadRequest},
	}
	for _, c := range cases {
		if got := lockProofErrorStatus(c.err); got != c.want {
			t.Errorf("lockProofErrorStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestVerifyErrorStatus(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantSlug string
	}{
		{verification.ErrReplayDetected, http.StatusTooManyRequests, "replay_detected"},
		{verification.ErrMediaPayloadNotAllowed, http.StatusBadRequest, "media_payload_not_allowed"},
		{verification.ErrManifestSummaryNotAllowed, http.StatusForbidden, "manifest_summary_not_allowed"},
	}
	for _, c := range cases {
		status, code := verifyErrorStatus(c.err)
		if status != c.wantCode || code != c.wantSlug {
			t.Errorf("verifyErrorStatus(%v) = (%d, %q), want (%d, %q)", c.err, status, code, c.wantCode, c.wantSlug)
		}
	}
}

func TestIdentityFromContext_DefaultsToAnonymous(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	identity := identityFromContext(r.Context())
	if identity.Authenticated {
		t.Error("expected anonymous identity when none is set on the context")
	}
}

func TestIsHTTPS_HonorsForwardedProto(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	if !isHTTPS(r) {
		t.Error("expected isHTTPS to honor X-Forwarded-Proto: https")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Forwarded-Proto", "http")
	if isHTTPS(r2) {
		t.Error("expected isHTTPS to be false for X-Forwarded-Proto: http")
	}
}

func TestWriteError_WritesStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "invalid_request", "bad body")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w.Body.Len() == 0 {
		t.Error("expected a JSON error body")
	}
}

func TestHandleGetCert_RejectsNonGET(t *testing.T) {
	s := &Server{}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/certs/ABC", nil)
	w := httptest.NewRecorder()
	s.handleGetCert(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
