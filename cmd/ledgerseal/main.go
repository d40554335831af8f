// Copyright 2025 Archive Origin
//
// ledgerseal runs one Merkle batch-sealing pass over pending capture
// records and writes the ledger artifacts to disk (and optionally git).

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/archive-origin/backend/pkg/config"
	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/ledger"
)

func main() {
	commit := flag.Bool("commit", false, "git add+commit the sealed artifacts")
	push := flag.Bool("push", false, "git push after committing (implies --commit)")
	remote := flag.String("remote", "", "git remote name (defaults to configured value)")
	branch := flag.String("branch", "", "git branch name (defaults to configured value)")
	flag.Parse()

	if *push {
		*commit = true
	}

	logger := log.New(os.Stdout, "[ledgerseal] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	gitRemote := cfg.LedgerGitRemote
	if *remote != "" {
		gitRemote = *remote
	}
	gitBranch := cfg.LedgerGitBranch
	if *branch != "" {
		gitBranch = *branch
	}

	db, err := database.NewClient(cfg)
	if err != nil {
		logger.Fatalf("connecting to database: %v", err)
	}
	defer db.Close()

	captures := database.NewCaptureRepository(db)

	sealer := ledger.New(
		db,
		captures,
		cfg.LedgerRepoRoot,
		*commit,
		*push,
		gitRemote,
		gitBranch,
		ledger.WithLogger(logger),
	)

	result, err := sealer.Seal(context.Background())
	if errors.Is(err, ledger.ErrNothingPending) {
		fmt.Println("nothing to seal")
		os.Exit(0)
	}
	if err != nil {
		logger.Fatalf("sealing failed: %v", err)
	}

	fmt.Printf("sealed batch %s: %d records, root %s, sealed_at %s\n",
		result.BatchID, result.RecordCount, result.RootHash, result.SealedAt.Format("2006-01-02T15:04:05Z07:00"))
}
