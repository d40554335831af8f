// Copyright 2025 Archive Origin
//
// Configuration loader for the Archive Origin backend.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// VerifierAPIKey describes one configured verifier client.
type VerifierAPIKey struct {
	Key                  string `json:"key" yaml:"key"`
	HMACSecret           string `json:"hmac_secret" yaml:"hmac_secret"`
	Name                 string `json:"name" yaml:"name"`
	RateLimitPerMinute   int    `json:"rate_limit_per_minute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
	AllowManifestSummary bool   `json:"allow_manifest_summary,omitempty" yaml:"allow_manifest_summary,omitempty"`
}

// DeviceCheckConfig holds the Apple DeviceCheck client settings.
type DeviceCheckConfig struct {
	Enabled          bool
	TeamID           string
	KeyID            string
	PrivateKeyPEM    string
	PrivateKeyPath   string
	Environment      string // "production" | "development"
	AllowedBundleIDs []string
	RequestTimeout   time.Duration
}

// Config holds all configuration for the Archive Origin backend.
type Config struct {
	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds

	// Server
	ListenAddr string

	// Verification / tokens
	VerifyBaseURL            string
	DeviceTokenTTLSeconds    int
	DeviceTokenRenewalBuffer int
	VerifySignatures         bool

	// Ledger
	LedgerRepoRoot      string
	LedgerGitAutoCommit bool
	LedgerGitAutoPush   bool
	LedgerGitRemote     string
	LedgerGitBranch     string

	// HTTP chrome
	CORSAllowOrigins []string
	TLSRequired      bool

	// Verification engine
	AllowManifestSummary    bool
	ManifestSummaryMaxBytes int
	ReplayCacheTTLSeconds   int

	// Auth
	VerifierAPIKeys                 map[string]VerifierAPIKey
	AnonymousRateLimitPerMinute     int
	AuthenticatedRateLimitPerMinute int

	// Trusted time
	NTPServers []string

	// CRL refresh
	CRLURLs                  []string
	CRLRefreshIntervalSeconds int
	CRLFetchTimeout          time.Duration

	DeviceCheck DeviceCheckConfig
}

// Load reads configuration from environment variables. A config.yaml
// bootstrap file (path from CONFIG_FILE) is also read, but only its
// DATABASE_URL key is used, and only when DATABASE_URL is unset in the
// environment; every other setting comes from the environment or its default.
func Load() (*Config, error) {
	bootstrap := loadYAMLBootstrap(getEnv("CONFIG_FILE", "config.yaml"))

	cfg := &Config{
		DatabaseURL:         getEnv("DATABASE_URL", bootstrap["DATABASE_URL"]),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		VerifyBaseURL:            getEnv("VERIFY_BASE_URL", "https://verify.archiveorigin.example"),
		DeviceTokenTTLSeconds:    getEnvInt("DEVICE_TOKEN_TTL_SECONDS", 2592000),
		DeviceTokenRenewalBuffer: getEnvInt("DEVICE_TOKEN_RENEWAL_BUFFER", 604800),
		VerifySignatures:         getEnvBool("VERIFY_SIGNATURES", false),

		LedgerRepoRoot:      getEnv("LEDGER_REPO_ROOT", getEnv("LEDGER_DIR", "./ledger")),
		LedgerGitAutoCommit: getEnvBool("LEDGER_GIT_AUTO_COMMIT", false),
		LedgerGitAutoPush:   getEnvBool("LEDGER_GIT_AUTO_PUSH", false),
		LedgerGitRemote:     getEnv("LEDGER_GIT_REMOTE", "origin"),
		LedgerGitBranch:     getEnv("LEDGER_GIT_BRANCH", "main"),

		CORSAllowOrigins: parseStringList(getEnv("CORS_ALLOW_ORIGINS", "")),
		TLSRequired:      getEnvBool("TLS_REQUIRED", true),

		AllowManifestSummary:    getEnvBool("ALLOW_MANIFEST_SUMMARY", true),
		ManifestSummaryMaxBytes: getEnvInt("MANIFEST_SUMMARY_MAX_BYTES", 4096),
		ReplayCacheTTLSeconds:   getEnvInt("REPLAY_CACHE_TTL_SECONDS", 300),

		AnonymousRateLimitPerMinute:     getEnvInt("ANONYMOUS_RATE_LIMIT_PER_MINUTE", 60),
		AuthenticatedRateLimitPerMinute: getEnvInt("AUTHENTICATED_RATE_LIMIT_PER_MINUTE", 600),

		NTPServers: parseStringList(getEnv("NTP_SERVERS", "time.apple.com,time.google.com,pool.ntp.org")),

		CRLURLs:                   parseStringList(getEnv("CRL_URLS", "")),
		CRLRefreshIntervalSeconds: getEnvInt("CRL_REFRESH_INTERVAL_SECONDS", 3600),
		CRLFetchTimeout:           getEnvDuration("CRL_FETCH_TIMEOUT", 5*time.Second),

		DeviceCheck: DeviceCheckConfig{
			Enabled:          getEnvBool("DEVICECHECK_ENABLED", false),
			TeamID:           getEnv("DEVICECHECK_TEAM_ID", ""),
			KeyID:            getEnv("DEVICECHECK_KEY_ID", ""),
			PrivateKeyPEM:    getEnv("DEVICECHECK_PRIVATE_KEY", ""),
			PrivateKeyPath:   getEnv("DEVICECHECK_PRIVATE_KEY_PATH", ""),
			Environment:      getEnv("DEVICECHECK_ENVIRONMENT", "production"),
			AllowedBundleIDs: parseStringList(getEnv("DEVICECHECK_ALLOWED_BUNDLE_IDS", "")),
			RequestTimeout:   getEnvDuration("DEVICECHECK_TIMEOUT", 5*time.Second),
		},
	}

	keys, err := parseVerifierAPIKeys(getEnv("VERIFIER_API_KEYS", ""))
	if err != nil {
		return nil, fmt.Errorf("parsing VERIFIER_API_KEYS: %w", err)
	}
	cfg.VerifierAPIKeys = keys

	return cfg, nil
}

// Validate checks that required configuration is present before the service starts.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.LedgerRepoRoot == "" {
		errs = append(errs, "LEDGER_REPO_ROOT is required but not set")
	}
	if c.DeviceCheck.Enabled {
		if c.DeviceCheck.TeamID == "" {
			errs = append(errs, "DEVICECHECK_TEAM_ID is required when DeviceCheck is enabled")
		}
		if c.DeviceCheck.KeyID == "" {
			errs = append(errs, "DEVICECHECK_KEY_ID is required when DeviceCheck is enabled")
		}
		if c.DeviceCheck.PrivateKeyPEM == "" && c.DeviceCheck.PrivateKeyPath == "" {
			errs = append(errs, "DEVICECHECK_PRIVATE_KEY or DEVICECHECK_PRIVATE_KEY_PATH is required when DeviceCheck is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func loadYAMLBootstrap(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func parseStringList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.HasPrefix(value, "[") {
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err == nil {
			return list
		}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func parseVerifierAPIKeys(value string) (map[string]VerifierAPIKey, error) {
	result := make(map[string]VerifierAPIKey)
	value = strings.TrimSpace(value)
	if value == "" {
		return result, nil
	}
	var list []VerifierAPIKey
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil, err
	}
	for _, k := range list {
		if k.Key == "" {
			continue
		}
		result[k.Key] = k
	}
	return result, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
