// Copyright 2025 Archive Origin
//
// certseed bulk-ingests platform attestation certificates (Apple/Google root
// and intermediate certs) from a directory into the certificate store.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/archive-origin/backend/pkg/attestation"
	"github.com/archive-origin/backend/pkg/config"
	"github.com/archive-origin/backend/pkg/database"
)

func main() {
	dir := flag.String("dir", "", "directory of .pem/.crt/.cer certificate files to ingest")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: certseed --dir <path>")
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "[certseed] ", log.LstdFlags)

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

	attestations := database.NewAttestationRepository(db)
	svc := attestation.New(attestations, attestation.WithLogger(logger))

	result, err := svc.IngestDirectory(context.Background(), *dir)
	if err != nil {
		logger.Fatalf("ingesting %s: %v", *dir, err)
	}

	for _, r := range result.Ingested {
		logger.Printf("ingested %s", r.CertHash)
	}
	fmt.Printf("ingested %d certificate(s), skipped %d\n", len(result.Ingested), len(result.Skipped))
	if len(result.Skipped) > 0 {
		os.Exit(1)
	}
}
