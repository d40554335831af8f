// Copyright 2025 Archive Origin
//
// HMAC request authentication for verifier endpoints: API key lookup,
// timestamp replay window, constant-time signature check.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/archive-origin/backend/pkg/config"
)

const timestampWindow = 300 * time.Second

// Sentinel auth failures, mapped to stable string codes at the HTTP boundary.
var (
	ErrInvalidAPIKey        = errors.New("invalid_api_key")
	ErrMissingHMACHeaders   = errors.New("missing_hmac_headers")
	ErrInvalidTimestamp     = errors.New("invalid_timestamp")
	ErrTimestampOutOfWindow = errors.New("timestamp_out_of_window")
	ErrInvalidSignature     = errors.New("invalid_signature")
)

// ClientIdentity is the authenticated (or anonymous) caller carried through
// the request lifecycle.
type ClientIdentity struct {
	APIKey               string
	Name                 string
	Authenticated        bool
	RateLimitPerMinute   int
	AllowManifestSummary bool
}

// Authenticator validates verifier requests against configured API keys.
type Authenticator struct {
	keys                            map[string]config.VerifierAPIKey
	anonymousRateLimitPerMinute     int
	authenticatedRateLimitPerMinute int
	allowManifestSummaryDefault     bool
	now                             func() time.Time
}

// New creates an Authenticator from loaded configuration.
func New(cfg *config.Config) *Authenticator {
	return &Authenticator{
		keys:                            cfg.VerifierAPIKeys,
		anonymousRateLimitPerMinute:     cfg.AnonymousRateLimitPerMinute,
		authenticatedRateLimitPerMinute: cfg.AuthenticatedRateLimitPerMinute,
		allowManifestSummaryDefault:     cfg.AllowManifestSummary,
		now:                             func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate inspects the request headers and returns the resulting
// identity, or an error naming which auth rule failed.
func (a *Authenticator) Authenticate(headers http.Header, payloadContentHash string) (ClientIdentity, error) {
	apiKey := headers.Get("X-Api-Key")
	if apiKey == "" {
		return ClientIdentity{
			Authenticated:        false,
			RateLimitPerMinute:   a.anonymousRateLimitPerMinute,
			AllowManifestSummary: a.allowManifestSummaryDefault,
		}, nil
	}

	record, ok := a.keys[apiKey]
	if !ok {
		return ClientIdentity{}, ErrInvalidAPIKey
	}

	tsHeader := headers.Get("X-Api-Timestamp")
	sigHeader := headers.Get("X-Api-Signature")
	if tsHeader == "" || sigHeader == "" {
		return ClientIdentity{}, ErrMissingHMACHeaders
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ClientIdentity{}, ErrInvalidTimestamp
	}

	now := a.now().Unix()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(timestampWindow/time.Second) {
		return ClientIdentity{}, ErrTimestampOutOfWindow
	}

	message := fmt.Sprintf("%s:%s", tsHeader, payloadContentHash)
	expected := sign(record.HMACSecret, message)
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return ClientIdentity{}, ErrInvalidSignature
	}

	rateLimit := record.RateLimitPerMinute
	if rateLimit == 0 {
		rateLimit = a.authenticatedRateLimitPerMinute
	}

	return ClientIdentity{
		APIKey:               apiKey,
		Name:                 record.Name,
		Authenticated:        true,
		RateLimitPerMinute:   rateLimit,
		AllowManifestSummary: record.AllowManifestSummary,
	}, nil
}

// RateLimitKey returns the key used to bucket this identity in the rate
// limiter: the API key if authenticated, else "ip:<remote addr>".
func RateLimitKey(identity ClientIdentity, remoteAddr string) string {
	if identity.Authenticated {
		return identity.APIKey
	}
	return "ip:" + remoteAddr
}

// HTTPStatus maps a sentinel auth error to its stable code and HTTP status.
func HTTPStatus(err error) (int, string) {
	switch err {
	case ErrInvalidAPIKey:
		return http.StatusUnauthorized, "invalid_api_key"
	case ErrMissingHMACHeaders:
		return http.StatusUnauthorized, "missing_hmac_headers"
	case ErrInvalidTimestamp:
		return http.StatusUnauthorized, "invalid_timestamp"
	case ErrTimestampOutOfWindow:
		return http.StatusUnauthorized, "timestamp_out_of_window"
	case ErrInvalidSignature:
		return http.StatusUnauthorized, "invalid_signature"
	default:
		return http.StatusUnauthorized, "unauthorized"
	}
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
