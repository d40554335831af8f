// Copyright 2025 Archive Origin
//
// DeviceCheck client: signs an ES256 JWT for Apple team/key credentials and
// posts a device token to the validate_device_token endpoint. Only the
// synchronous single-endpoint validate flow is implemented.

package devicecheck

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	productionBaseURL  = "https://api.devicecheck.apple.com/v1"
	developmentBaseURL = "https://api.development.devicecheck.apple.com/v1"
)

// Reason classifies why a DeviceCheck validation failed.
type Reason string

const (
	ReasonInvalidToken Reason = "invalid_device_token"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonServiceError Reason = "devicecheck_service_error"
)

// Error reports a failed DeviceCheck validation with its classified reason.
type Error struct {
	Reason     Reason
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("devicecheck: %s (status %d)", e.Reason, e.StatusCode)
}

// Client validates device tokens against Apple's DeviceCheck service.
type Client struct {
	teamID     string
	keyID      string
	privateKey *ecdsa.PrivateKey
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client (5s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a DeviceCheck client. pemKey is the PKCS8/EC PEM-encoded
// private key; environment selects production vs development API hosts.
func New(teamID, keyID string, pemKey []byte, environment string, opts ...Option) (*Client, error) {
	key, err := parseECPrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parsing devicecheck private key: %w", err)
	}

	base := productionBaseURL
	if environment == "development" {
		base = developmentBaseURL
	}

	c := &Client{
		teamID:     teamID,
		keyID:      keyID,
		privateKey: key,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromPath loads the private key from disk and constructs a Client.
func NewFromPath(teamID, keyID, path, environment string, opts ...Option) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devicecheck key file: %w", err)
	}
	return New(teamID, keyID, data, environment, opts...)
}

// ValidateDeviceToken asks DeviceCheck to validate a base64 device token.
// Success is a nil error; any non-2xx response is mapped to a classified *Error.
func (c *Client) ValidateDeviceToken(ctx context.Context, deviceToken string) error {
	token, err := c.signedJWT()
	if err != nil {
		return fmt.Errorf("signing devicecheck jwt: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"device_token": deviceToken,
		"transaction_id": transactionID(),
		"timestamp":     time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding devicecheck request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate_device_token", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building devicecheck request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Reason: ReasonServiceError, StatusCode: 0}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return &Error{Reason: ReasonInvalidToken, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Reason: ReasonUnauthorized, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Reason: ReasonRateLimited, StatusCode: resp.StatusCode}
	default:
		return &Error{Reason: ReasonServiceError, StatusCode: resp.StatusCode}
	}
}

// signedJWT builds the short-lived ES256 JWT Apple expects on every call:
// header kid = key id, claims iss = team id, iat = now.
func (c *Client) signedJWT() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.teamID,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyID
	return token.SignedString(c.privateKey)
}

func parseECPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("devicecheck key is not an EC private key")
	}
	return key, nil
}

func transactionID() string {
	return fmt.Sprintf("ao-%d", time.Now().UnixNano())
}
