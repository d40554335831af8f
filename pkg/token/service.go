// Copyright 2025 Archive Origin
//
// Token service: device enrolment, Ed25519 pubkey binding, and bearer token
// issuance/rotation/renewal.

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/devicecheck"
	"github.com/archive-origin/backend/pkg/identity"
)

// Sentinel enrolment failures, mapped to HTTP status/codes at the boundary.
var (
	ErrPublicKeyInvalid         = errors.New("public_key_invalid_format")
	ErrDeviceCheckTokenRequired = errors.New("devicecheck_token_required")
	ErrBundleIDRequired         = errors.New("bundle_id_required")
	ErrBundleIDNotAllowed       = errors.New("bundle_id_not_allowed")
	ErrTokenMismatch            = errors.New("token_mismatch")
)

// tokenEntropyBytes yields a base64 string with at least 64 bytes of entropy.
const tokenEntropyBytes = 64 // 64 raw bytes -> 86 base64url chars

// EnrollRequest is the device enrolment payload.
type EnrollRequest struct {
	DeviceID         string
	PublicKey        string
	Platform         string
	AppVersion       string
	Force            bool
	CurrentToken     string
	DeviceCheckToken string
	BundleID         string
}

// EnrollResult is returned on successful enrolment.
type EnrollResult struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// DeviceCheckValidator is the contract the DeviceCheck client fulfills.
type DeviceCheckValidator interface {
	ValidateDeviceToken(ctx context.Context, token string) error
}

// Service implements the device enrolment and token lifecycle (C7).
type Service struct {
	tokens              *database.TokenRepository
	deviceCheck         DeviceCheckValidator
	deviceCheckEnabled  bool
	allowedBundleIDs    map[string]bool
	ttl                 time.Duration
	renewalBuffer       time.Duration
	logger              *log.Logger
	now                 func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the service's time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a token Service.
func New(tokens *database.TokenRepository, dc DeviceCheckValidator, deviceCheckEnabled bool, allowedBundleIDs []string, ttl, renewalBuffer time.Duration, opts ...Option) *Service {
	allowed := make(map[string]bool, len(allowedBundleIDs))
	for _, b := range allowedBundleIDs {
		allowed[b] = true
	}

	s := &Service{
		tokens:             tokens,
		deviceCheck:        dc,
		deviceCheckEnabled: deviceCheckEnabled,
		allowedBundleIDs:   allowed,
		ttl:                ttl,
		renewalBuffer:      renewalBuffer,
		logger:             log.New(log.Writer(), "[TokenService] ", log.LstdFlags),
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enroll issues, reuses, or rotates a device's bearer token per §4.7.
func (s *Service) Enroll(ctx context.Context, req *EnrollRequest) (*EnrollResult, error) {
	if !identity.ValidatePublicKeyFormat(req.PublicKey) {
		return nil, ErrPublicKeyInvalid
	}

	if s.deviceCheckEnabled {
		if err := s.checkDeviceCheck(ctx, req); err != nil {
			return nil, err
		}
	}

	existing, err := s.tokens.Get(ctx, req.DeviceID)
	if err != nil && err != database.ErrDeviceTokenNotFound {
		return nil, fmt.Errorf("loading device token: %w", err)
	}

	if err == database.ErrDeviceTokenNotFound {
		return s.issue(ctx, req)
	}

	if !req.Force {
		if req.CurrentToken != existing.Token {
			return nil, ErrTokenMismatch
		}
		if !existing.ForceRenewalRequired && existing.ExpiresAt.Sub(s.now()) > s.renewalBuffer {
			return &EnrollResult{
				Token:     existing.Token,
				IssuedAt:  existing.IssuedAt,
				ExpiresAt: existing.ExpiresAt,
			}, nil
		}
	}

	return s.issue(ctx, req)
}

func (s *Service) checkDeviceCheck(ctx context.Context, req *EnrollRequest) error {
	if req.DeviceCheckToken == "" {
		return ErrDeviceCheckTokenRequired
	}
	if _, err := base64Decode(req.DeviceCheckToken); err != nil {
		return ErrDeviceCheckTokenRequired
	}
	if len(s.allowedBundleIDs) > 0 {
		if req.BundleID == "" {
			return ErrBundleIDRequired
		}
		if !s.allowedBundleIDs[req.BundleID] {
			return ErrBundleIDNotAllowed
		}
	}
	if s.deviceCheck == nil {
		return nil
	}
	if err := s.deviceCheck.ValidateDeviceToken(ctx, req.DeviceCheckToken); err != nil {
		var dcErr *devicecheck.Error
		if errors.As(err, &dcErr) {
			return fmt.Errorf("devicecheck_%s", dcErr.Reason)
		}
		return fmt.Errorf("devicecheck_service_error: %w", err)
	}
	return nil
}

func (s *Service) issue(ctx context.Context, req *EnrollRequest) (*EnrollResult, error) {
	tok, err := newURLSafeToken()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	record := &database.DeviceToken{
		DeviceID:             req.DeviceID,
		Token:                tok,
		PublicKey:            req.PublicKey,
		Platform:             req.Platform,
		AppVersion:           req.AppVersion,
		IssuedAt:             issuedAt,
		ExpiresAt:            expiresAt,
		ForceRenewalRequired: false,
	}

	if err := s.tokens.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting device token: %w", err)
	}

	return &EnrollResult{Token: tok, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

func newURLSafeToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
