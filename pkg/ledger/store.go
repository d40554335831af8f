// Copyright 2025 Archive Origin
//
// Merkle sealer: sweeps pending capture records, builds a Merkle tree over
// their asset hashes, and publishes the result into a version-controlled
// artifact tree (C9).

package ledger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/oklog/ulid/v2"

	"github.com/archive-origin/backend/pkg/database"
	"github.com/archive-origin/backend/pkg/merkle"
	"github.com/archive-origin/backend/pkg/metrics"
)

const (
	batchesDir = "batches"
	rootsDir   = "roots"
	proofsDir  = "proofs"

	indexFileName    = "ledger_index.json"
	csvFileName      = "daily_roots.csv"
	manifestFileName = "proof_manifest.jsonl"
)

// Sealer implements the Merkle batch sealer (C9).
type Sealer struct {
	client   *database.Client
	captures *database.CaptureRepository

	repoRoot string

	gitAutoCommit bool
	gitAutoPush   bool
	gitRemote     string
	gitBranch     string

	logger *log.Logger
	now    func() time.Time
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithLogger sets a custom logger for the sealer.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sealer) { s.logger = logger }
}

// WithClock overrides the sealer's time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Sealer) { s.now = now }
}

// New creates a Sealer.
func New(client *database.Client, captures *database.CaptureRepository, repoRoot string, gitAutoCommit, gitAutoPush bool, gitRemote, gitBranch string, opts ...Option) *Sealer {
	s := &Sealer{
		client:        client,
		captures:      captures,
		repoRoot:      repoRoot,
		gitAutoCommit: gitAutoCommit,
		gitAutoPush:   gitAutoPush,
		gitRemote:     gitRemote,
		gitBranch:     gitBranch,
		logger:        log.New(log.Writer(), "[MerkleSealer] ", log.LstdFlags),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seal performs one sealing pass. Returns ErrNothingPending if there are no
// unsealed capture records.
func (s *Sealer) Seal(ctx context.Context) (*SealResult, error) {
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := s.captures.ListUnsealed(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("listing unsealed records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNothingPending
	}

	leaves := make([]string, len(records))
	for i, rec := range records {
		leaves[i] = rec.AssetHash
	}

	root, levels, err := merkle.BuildMerkleTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("building merkle tree: %w", err)
	}

	sealedAt := s.now()
	batchID := ulid.MustNew(ulid.Timestamp(sealedAt), rand.Reader).String()

	batch := s.buildBatch(batchID, root, sealedAt, records, levels)

	artifacts, err := s.writeArtifacts(batch)
	if err != nil {
		return nil, fmt.Errorf("writing ledger artifacts: %w", err)
	}

	for _, rec := range records {
		if err := s.captures.Seal(ctx, tx, rec.RecordID, batchID, root, sealedAt); err != nil {
			return nil, fmt.Errorf("sealing capture record %s: %w", rec.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing seal transaction: %w", err)
	}

	result := &SealResult{
		BatchID:     batchID,
		RootHash:    root,
		SealedAt:    sealedAt,
		RecordCount: len(records),
	}
	metrics.LedgerBatchesSealedTotal.Inc()

	if s.gitAutoCommit {
		sha, err := s.commitArtifacts(batchID, root, artifacts)
		if err != nil {
			s.logger.Printf("git auto-commit failed for batch %s: %v", batchID, err)
			return result, fmt.Errorf("git auto-commit failed after successful seal: %w", err)
		}
		result.CommitSHA = sha
	}

	return result, nil
}

func (s *Sealer) buildBatch(batchID, root string, sealedAt time.Time, records []*database.CaptureRecord, levels [][]string) *Batch {
	batchRecords := make([]BatchRecord, len(records))
	for i, rec := range records {
		batchRecords[i] = BatchRecord{
			RecordID:       rec.RecordID,
			AssetHash:      rec.AssetHash,
			CaptureTimeUTC: rec.CaptureTimeUTC.UTC().Format(time.RFC3339),
			DeviceID:       rec.DeviceID,
		}
	}

	return &Batch{
		BatchID:          batchID,
		RootHash:         root,
		SealedAtUTC:      sealedAt.Format(time.RFC3339),
		RecordCount:      len(records),
		Records:          batchRecords,
		MerkleTreeLevels: levels,
	}
}

// writeArtifacts writes the batch file, updates the root index and CSV, and
// appends per-record proof lines. Returns the four artifact paths touched.
func (s *Sealer) writeArtifacts(batch *Batch) ([]string, error) {
	for _, dir := range []string{batchesDir, rootsDir, proofsDir} {
		if err := os.MkdirAll(filepath.Join(s.repoRoot, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	date := batch.SealedAtUTC[:10]
	batchPath := filepath.Join(s.repoRoot, batchesDir, fmt.Sprintf("%s_%s.json", date, batch.BatchID))
	if err := writeSortedJSONFile(batchPath, batch); err != nil {
		return nil, fmt.Errorf("writing batch artifact: %w", err)
	}

	indexPath := filepath.Join(s.repoRoot, rootsDir, indexFileName)
	if err := s.appendIndexEntry(indexPath, batch); err != nil {
		return nil, fmt.Errorf("updating ledger index: %w", err)
	}

	csvPath := filepath.Join(s.repoRoot, rootsDir, csvFileName)
	if err := s.appendCSVRow(csvPath, batch); err != nil {
		return nil, fmt.Errorf("updating daily roots csv: %w", err)
	}

	manifestPath := filepath.Join(s.repoRoot, proofsDir, manifestFileName)
	if err := s.appendManifestLines(manifestPath, batch); err != nil {
		return nil, fmt.Errorf("updating proof manifest: %w", err)
	}

	return []string{batchPath, indexPath, csvPath, manifestPath}, nil
}

func (s *Sealer) appendIndexEntry(path string, batch *Batch) error {
	var entries []IndexEntry
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parsing existing ledger index: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	entries = append(entries, IndexEntry{
		BatchID:     batch.BatchID,
		RootHash:    batch.RootHash,
		SealedAtUTC: batch.SealedAtUTC,
		RecordCount: batch.RecordCount,
	})

	sort.Slice(entries, func(i, j int) bool { return entries[i].SealedAtUTC < entries[j].SealedAtUTC })

	return writeSortedJSONFile(path, entries)
}

func (s *Sealer) appendCSVRow(path string, batch *Batch) error {
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write([]string{"sealed_at_utc", "root_hash", "batch_id", "record_count"}); err != nil {
			return err
		}
	}
	if err := w.Write([]string{batch.SealedAtUTC, batch.RootHash, batch.BatchID, fmt.Sprintf("%d", batch.RecordCount)}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (s *Sealer) appendManifestLines(path string, batch *Batch) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, rec := range batch.Records {
		line := ManifestLine{
			RecordID:    rec.RecordID,
			AssetHash:   rec.AssetHash,
			BatchID:     batch.BatchID,
			RootHash:    batch.RootHash,
			SealedAtUTC: batch.SealedAtUTC,
			ProofPath:   computeProofPath(batch.MerkleTreeLevels, i),
		}

		encoded, err := sortedJSON(line)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(encoded, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sealer) commitArtifacts(batchID, root string, paths []string) (string, error) {
	repo, err := git.PlainOpen(s.repoRoot)
	if err != nil {
		repo, err = git.PlainInit(s.repoRoot, false)
		if err != nil {
			return "", fmt.Errorf("opening/initializing ledger repo: %w", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	for _, p := range paths {
		rel, err := filepath.Rel(s.repoRoot, p)
		if err != nil {
			return "", err
		}
		if _, err := wt.Add(rel); err != nil {
			return "", fmt.Errorf("staging %s: %w", rel, err)
		}
	}

	commit, err := wt.Commit(fmt.Sprintf("Sealed batch %s | Root: %s", batchID, root), &git.CommitOptions{
		Author: &object.Signature{Name: "archive-origin-sealer", When: s.now()},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}

	if s.gitAutoPush {
		opts := &git.PushOptions{RemoteName: s.gitRemote}
		if s.gitBranch != "" {
			ref := fmt.Sprintf("refs/heads/%s:refs/heads/%s", s.gitBranch, s.gitBranch)
			opts.RefSpecs = []gitconfig.RefSpec{gitconfig.RefSpec(ref)}
		}
		err := repo.Push(opts)
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return commit.String(), fmt.Errorf("pushing to %s/%s: %w", s.gitRemote, s.gitBranch, err)
		}
	}

	return commit.String(), nil
}

// computeProofPath returns the sibling hash at each level from the leaf at
// index up to (but excluding) the root, replicating the odd-length
// duplication tie-break used when the tree was built.
func computeProofPath(levels [][]string, index int) []string {
	var path []string
	idx := index
	for lvl := 0; lvl < len(levels)-1; lvl++ {
		level := levels[lvl]
		var siblingIdx int
		if idx%2 == 0 {
			siblingIdx = idx + 1
			if siblingIdx >= len(level) {
				siblingIdx = idx
			}
		} else {
			siblingIdx = idx - 1
		}
		path = append(path, level[siblingIdx])
		idx = idx / 2
	}
	return path
}

// sortedJSON marshals v with struct keys normalized to alphabetical order by
// round-tripping through a generic representation (Go sorts map keys on marshal).
func sortedJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func writeSortedJSONFile(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(pretty)
	buf.WriteByte('\n')

	return os.WriteFile(path, buf.Bytes(), 0o644)
}
