package auth

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/archive-origin/backend/pkg/config"
)

func newTestAuthenticator() *Authenticator {
	cfg := &config.Config{
		VerifierAPIKeys: map[string]config.VerifierAPIKey{
			"key1": {Key: "key1", HMACSecret: "topsecret", Name: "tester", RateLimitPerMinute: 10, AllowManifestSummary: true},
		},
		AnonymousRateLimitPerMinute:     60,
		AuthenticatedRateLimitPerMinute: 600,
		AllowManifestSummary:            false,
	}
	a := New(cfg)
	a.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return a
}

func signedHeaders(secret string, ts int64, contentHash string) http.Header {
	h := http.Header{}
	h.Set("X-Api-Key", "key1")
	tsStr := strconv.FormatInt(ts, 10)
	h.Set("X-Api-Timestamp", tsStr)
	h.Set("X-Api-Signature", sign(secret, tsStr+":"+contentHash))
	return h
}

func TestAuthenticate_Anonymous(t *testing.T) {
	a := newTestAuthenticator()
	id, err := a.Authenticate(http.Header{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Authenticated {
		t.Error("expected unauthenticated identity")
	}
	if id.RateLimitPerMinute != 60 {
		t.Errorf("rate limit = %d, want 60", id.RateLimitPerMinute)
	}
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	a := newTestAuthenticator()
	h := http.Header{}
	h.Set("X-Api-Key", "nope")
	_, err := a.Authenticate(h, "")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestAuthenticate_MissingHMACHeaders(t *testing.T) {
	a := newTestAuthenticator()
	h := http.Header{}
	h.Set("X-Api-Key", "key1")
	_, err := a.Authenticate(h, "")
	if !errors.Is(err, ErrMissingHMACHeaders) {
		t.Errorf("err = %v, want ErrMissingHMACHeaders", err)
	}
}

func TestAuthenticate_ValidSignature(t *testing.T) {
	a := newTestAuthenticator()
	h := signedHeaders("topsecret", 1700000000, "abc123")
	id, err := a.Authenticate(h, "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Authenticated || id.APIKey != "key1" {
		t.Errorf("identity = %+v, want authenticated key1", id)
	}
	if id.RateLimitPerMinute != 10 {
		t.Errorf("rate limit = %d, want 10", id.RateLimitPerMinute)
	}
}

func TestAuthenticate_BadSignature(t *testing.T) {
	a := newTestAuthenticator()
	h := signedHeaders("wrongsecret", 1700000000, "abc123")
	_, err := a.Authenticate(h, "abc123")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestAuthenticate_TimestampBoundary(t *testing.T) {
	a := newTestAuthenticator()

	within := signedHeaders("topsecret", 1700000000-300, "")
	if _, err := a.Authenticate(within, ""); err != nil {
		t.Errorf("ts at -300s should be accepted, got %v", err)
	}

	outside := signedHeaders("topsecret", 1700000000-301, "")
	if _, err := a.Authenticate(outside, ""); !errors.Is(err, ErrTimestampOutOfWindow) {
		t.Errorf("ts at -301s should be rejected, got %v", err)
	}
}

func TestAuthenticate_InvalidTimestamp(t *testing.T) {
	a := newTestAuthenticator()
	h := http.Header{}
	h.Set("X-Api-Key", "key1")
	h.Set("X-Api-Timestamp", "not-a-number")
	h.Set("X-Api-Signature", "deadbeef")
	_, err := a.Authenticate(h, "")
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("err = %v, want ErrInvalidTimestamp", err)
	}
}

func TestRateLimitKey(t *testing.T) {
	authed := ClientIdentity{Authenticated: true, APIKey: "key1"}
	if got := RateLimitKey(authed, "1.2.3.4"); got != "key1" {
		t.Errorf("got %s, want key1", got)
	}

	anon := ClientIdentity{Authenticated: false}
	if got := RateLimitKey(anon, "1.2.3.4"); got != "ip:1.2.3.4" {
		t.Errorf("got %s, want ip:1.2.3.4", got)
	}
}
