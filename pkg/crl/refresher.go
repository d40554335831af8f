// Copyright 2025 Archive Origin
//
// CRL refresher: fetches configured and per-certificate CRL URLs, unions
// revoked serials, and transactionally marks matching certificates revoked.

package crl

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/metrics"
)

// Result reports one refresh pass's outcome.
type Result struct {
	Checked int // number of successfully fetched CRLs
	Revoked int // number of certificates newly marked revoked
}

// Refresher fetches and applies CRLs (C4).
type Refresher struct {
	client        *database.Client
	attestations  *database.AttestationRepository
	configuredURLs []string
	httpClient    *http.Client
	logger        *log.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger sets a custom logger for the refresher.
func WithLogger(logger *log.Logger) Option {
	return func(r *Refresher) { r.logger = logger }
}

// WithTimeout overrides the default 5s per-URL fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Refresher) { r.httpClient.Timeout = d }
}

// New creates a Refresher.
func New(client *database.Client, attestations *database.AttestationRepository, configuredURLs []string, opts ...Option) *Refresher {
	r := &Refresher{
		client:         client,
		attestations:   attestations,
		configuredURLs: configuredURLs,
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		logger:         log.New(log.Writer(), "[CRLRefresher] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh performs one pass: fetch every distinct CRL URL, union revoked
// serials, and mark matching certificates revoked in a single transaction.
func (r *Refresher) Refresh(ctx context.Context) (*Result, error) {
	certs, err := r.attestations.ListForCRLRefresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}

	urls := r.collectURLs(certs)

	revokedSerials := make(map[string]bool)
	checked := 0
	for _, url := range urls {
		serials, err := r.fetchAndParse(ctx, url)
		if err != nil {
			r.logger.Printf("fetching CRL %s failed: %v", url, err)
			continue
		}
		checked++
		for _, s := range serials {
			revokedSerials[s] = true
		}
	}

	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	revokedCount := 0
	for _, cert := range certs {
		if !revokedSerials[cert.SerialNumber] {
			continue
		}
		if cert.Revoked {
			if err := r.attestations.BumpLastChecked(ctx, tx, cert.CertHash, now); err != nil {
				return nil, err
			}
			continue
		}
		if err := r.attestations.MarkRevoked(ctx, tx, cert.CertHash, "crl_revoked", now); err != nil {
			return nil, err
		}
		revokedCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing crl refresh: %w", err)
	}

	metrics.CRLCertsRevokedTotal.Add(float64(revokedCount))
	return &Result{Checked: checked, Revoked: revokedCount}, nil
}

// collectURLs unions the configured CRL URLs with every per-certificate URL,
// deduplicated.
func (r *Refresher) collectURLs(certs []*database.AttestationCertificate) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range r.configuredURLs {
		add(u)
	}
	for _, cert := range certs {
		for _, u := range cert.CRLURLs {
			add(u)
		}
	}
	return out
}

// fetchAndParse GETs a CRL and returns its revoked serials as uppercase hex.
// The body is tried first as DER, then as PEM.
func (r *Refresher) fetchAndParse(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		block, _ := pem.Decode(body)
		if block == nil {
			return nil, fmt.Errorf("crl is neither valid DER nor PEM")
		}
		crl, err = x509.ParseRevocationList(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PEM-wrapped crl: %w", err)
		}
	}

	serials := make([]string, 0, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		serials = append(serials, strings.ToUpper(entry.SerialNumber.Text(16)))
	}
	return serials, nil
}
