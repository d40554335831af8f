// Copyright 2025 Archive Origin
//
// Lock-proof writer: the authenticated write path that turns a validated
// capture submission into an immutable CaptureRecord.

package lockproof

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/identity"
	"github.com/google/uuid"
)

// Sentinel failures, matching the HTTP boundary's stable messages (§7).
var (
	ErrMissingOrInvalidAuth = errors.New("Missing or invalid Authorization header")
	ErrInvalidTokenOrDevice = errors.New("Invalid token or device")
	ErrPublicKeyMismatch    = errors.New("Public key mismatch")
	ErrTokenExpired         = errors.New("Token expired")
	ErrInvalidSignature     = errors.New("Invalid signature")
	ErrInvalidCaptureTime   = errors.New("Invalid capture_time_utc")
	ErrDeviceIDMismatch     = errors.New("device_id mismatch")
	ErrDevicePubkeyMismatch = errors.New("device_pubkey mismatch")
)

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const shortcodeLength = 6

var assetHashPattern = regexp.MustCompile(`^sha256:[0-9a-fA-F]{64}$`)

// Request is a validated lock-proof submission, with header echoes already
// separated from the body for the mismatch check.
type Request struct {
	BearerToken        string
	HeaderDeviceID     string
	HeaderDevicePubkey string

	DeviceID       string
	DevicePubkey   string
	AssetHash      string
	CaptureTimeUTC string
	Signature      string
	GeoLat         *string
	GeoLon         *string
	GeoAccuracyM   *string
}

// Result is returned on a successful write.
type Result struct {
	RecordID  string
	Shortcode string
	VerifyURL string
}

// Writer implements the lock-proof write path (C8).
type Writer struct {
	captures         *database.CaptureRepository
	tokens           *database.TokenRepository
	verifyBaseURL    string
	verifySignatures bool
	logger           *log.Logger
	now              func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets a custom logger for the writer.
func WithLogger(logger *log.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// New creates a Writer.
func New(captures *database.CaptureRepository, tokens *database.TokenRepository, verifyBaseURL string, verifySignatures bool, opts ...Option) *Writer {
	w := &Writer{
		captures:         captures,
		tokens:           tokens,
		verifyBaseURL:    verifyBaseURL,
		verifySignatures: verifySignatures,
		logger:           log.New(log.Writer(), "[LockProofWriter] ", log.LstdFlags),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write validates req against the stored device token and, on success,
// persists a new CaptureRecord.
func (w *Writer) Write(ctx context.Context, req *Request) (*Result, error) {
	if req.BearerToken == "" {
		return nil, ErrMissingOrInvalidAuth
	}
	if req.HeaderDeviceID != req.DeviceID {
		return nil, ErrDeviceIDMismatch
	}
	if req.HeaderDevicePubkey != req.DevicePubkey {
		return nil, ErrDevicePubkeyMismatch
	}

	stored, err := w.tokens.Get(ctx, req.DeviceID)
	if err != nil {
		if err == database.ErrDeviceTokenNotFound {
			return nil, ErrInvalidTokenOrDevice
		}
		return nil, fmt.Errorf("loading device token: %w", err)
	}
	if stored.Token != req.BearerToken {
		return nil, ErrInvalidTokenOrDevice
	}
	if stored.PublicKey != req.DevicePubkey {
		return nil, ErrPublicKeyMismatch
	}
	if w.now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if !assetHashPattern.MatchString(req.AssetHash) {
		return nil, fmt.Errorf("asset_hash_invalid_format")
	}

	captureTime, err := parseISO8601(req.CaptureTimeUTC)
	if err != nil {
		return nil, ErrInvalidCaptureTime
	}

	if w.verifySignatures {
		message := []byte(req.AssetHash + "|" + req.CaptureTimeUTC)
		if err := identity.VerifySignature(req.DevicePubkey, req.Signature, message); err != nil {
			return nil, ErrInvalidSignature
		}
	}

	recordID := uuid.New().String()
	shortcode, err := randomShortcode()
	if err != nil {
		return nil, fmt.Errorf("generating shortcode: %w", err)
	}
	verifyURL := strings.TrimRight(w.verifyBaseURL, "/") + "/v/" + recordID

	rec := &database.CaptureRecord{
		RecordID:       recordID,
		Shortcode:      shortcode,
		VerifyURL:      verifyURL,
		AssetHash:      req.AssetHash,
		CaptureTimeUTC: captureTime,
		DeviceID:       req.DeviceID,
		DevicePubkey:   req.DevicePubkey,
		Signature:      req.Signature,
		GeoLat:         req.GeoLat,
		GeoLon:         req.GeoLon,
		GeoAccuracyM:   req.GeoAccuracyM,
	}

	if err := w.captures.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting capture record: %w", err)
	}

	return &Result{RecordID: recordID, Shortcode: shortcode, VerifyURL: verifyURL}, nil
}

func parseISO8601(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %s", value)
}

func randomShortcode() (string, error) {
	buf := make([]byte, shortcodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, shortcodeLength)
	for i, b := range buf {
		out[i] = shortcodeAlphabet[int(b)%len(shortcodeAlphabet)]
	}
	return string(out), nil
}
