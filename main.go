// Copyright 2025 Archive Origin
//
// Entrypoint: loads configuration, wires every component, runs database
// migrations, and serves the HTTP API.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archive-origin/backend/pkg/attestation"
	"github.com/archive-origin/backend/pkg/auth"
	"github.com/archive-origin/backend/pkg/config"
	"github.com/archive-origin/backend/pkg/crl"
	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/devicecheck"
	"github.com/archive-origin/backend/pkg/ledger"
	"github.com/archive-origin/backend/pkg/lockproof"
	"github.com/archive-origin/backend/pkg/ratelimit"
	"github.com/archive-origin/backend/pkg/server"
	"github.com/archive-origin/backend/pkg/token"
	"github.com/archive-origin/backend/pkg/trustedtime"
	"github.com/archive-origin/backend/pkg/verification"
)

func main() {
	logger := log.New(os.Stdout, "[ArchiveOrigin] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		logger.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.MigrateUp(ctx); err != nil {
		logger.Fatalf("running migrations: %v", err)
	}

	tokens := database.NewTokenRepository(db)
	captures := database.NewCaptureRepository(db)
	ledgerRepo := database.NewLedgerRepository(db)
	attestations := database.NewAttestationRepository(db)

	var dcClient *devicecheck.Client
	if cfg.DeviceCheck.Enabled {
		if cfg.DeviceCheck.PrivateKeyPath != "" {
			dcClient, err = devicecheck.NewFromPath(cfg.DeviceCheck.TeamID, cfg.DeviceCheck.KeyID, cfg.DeviceCheck.PrivateKeyPath, cfg.DeviceCheck.Environment)
		} else {
			dcClient, err = devicecheck.New(cfg.DeviceCheck.TeamID, cfg.DeviceCheck.KeyID, []byte(cfg.DeviceCheck.PrivateKeyPEM), cfg.DeviceCheck.Environment)
		}
		if err != nil {
			logger.Fatalf("initializing devicecheck client: %v", err)
		}
	}

	tokenSvc := token.New(
		tokens,
		deviceCheckValidator(dcClient),
		cfg.DeviceCheck.Enabled,
		cfg.DeviceCheck.AllowedBundleIDs,
		time.Duration(cfg.DeviceTokenTTLSeconds)*time.Second,
		time.Duration(cfg.DeviceTokenRenewalBuffer)*time.Second,
		token.WithLogger(log.New(os.Stdout, "[TokenService] ", log.LstdFlags)),
	)

	lockProofs := lockproof.New(
		captures,
		tokens,
		cfg.VerifyBaseURL,
		cfg.VerifySignatures,
		lockproof.WithLogger(log.New(os.Stdout, "[LockProofWriter] ", log.LstdFlags)),
	)

	clock := trustedtime.New(cfg.NTPServers)

	verifier := verification.New(
		ledgerRepo,
		attestations,
		clock,
		time.Duration(cfg.ReplayCacheTTLSeconds)*time.Second,
		verification.WithManifestMaxBytes(cfg.ManifestSummaryMaxBytes),
	)

	attestationSvc := attestation.New(
		attestations,
		attestation.WithLogger(log.New(os.Stdout, "[AttestationService] ", log.LstdFlags)),
	)

	authn := auth.New(cfg)
	limiter := ratelimit.New()

	sealer := ledger.New(
		db,
		captures,
		cfg.LedgerRepoRoot,
		cfg.LedgerGitAutoCommit,
		cfg.LedgerGitAutoPush,
		cfg.LedgerGitRemote,
		cfg.LedgerGitBranch,
		ledger.WithLogger(log.New(os.Stdout, "[LedgerSealer] ", log.LstdFlags)),
	)
	_ = sealer // sealing runs via cmd/ledgerseal; neither the server nor the CRL refresh loop below uses this sealer

	crlRefresher := crl.New(
		db,
		attestations,
		cfg.CRLURLs,
		crl.WithLogger(log.New(os.Stdout, "[CRLRefresher] ", log.LstdFlags)),
		crl.WithTimeout(cfg.CRLFetchTimeout),
	)

	srv := server.New(cfg, db, tokenSvc, lockProofs, verifier, attestationSvc, authn, limiter, clock, logger)

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go runCRLRefreshLoop(refreshCtx, crlRefresher, time.Duration(cfg.CRLRefreshIntervalSeconds)*time.Second, logger)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	waitForShutdown(httpServer, logger)
}

func deviceCheckValidator(c *devicecheck.Client) token.DeviceCheckValidator {
	if c == nil {
		return nil
	}
	return c
}

func runCRLRefreshLoop(ctx context.Context, refresher *crl.Refresher, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := refresher.Refresh(ctx)
			if err != nil {
				logger.Printf("CRL refresh failed: %v", err)
				continue
			}
			logger.Printf("CRL refresh complete: checked=%d revoked=%d", result.Checked, result.Revoked)
		}
	}
}

func waitForShutdown(httpServer *http.Server, logger *log.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
