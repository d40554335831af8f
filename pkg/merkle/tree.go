// Copyright 2025 Archive Origin
//
// Merkle kernel for capture-record batch sealing.
// Leaves and roots are sha256:<64 hex> strings, matching the wire format used
// throughout the ledger artifacts and the verification engine.

package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	sha256Prefix = "sha256:"
	sha256Len    = 64
)

// MerkleComputationError is raised when a tree cannot be built from the given input.
type MerkleComputationError struct {
	msg string
}

func (e *MerkleComputationError) Error() string { return e.msg }

func newComputationError(msg string) error {
	return &MerkleComputationError{msg: msg}
}

var errEmptyLeaves = newComputationError("at least one leaf hash is required")

// stripPrefix validates and strips the "sha256:" prefix, returning the lowercase hex digest.
func stripPrefix(value string) (string, error) {
	if !strings.HasPrefix(value, sha256Prefix) {
		return "", newComputationError("hash must start with 'sha256:'")
	}
	digest := strings.TrimPrefix(value, sha256Prefix)
	if len(digest) != sha256Len {
		return "", newComputationError("sha256 digest must be 64 hex characters")
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", newComputationError("sha256 digest must be hex encoded")
	}
	return strings.ToLower(digest), nil
}

// hashPair combines two hex-encoded digests (no separator, no prefix) into their
// parent hash, returned as lowercase hex.
func hashPair(left, right string) string {
	h := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(h[:])
}

// ComputeMerkleRoot computes only the root for a sequence of sha256-prefixed leaves.
func ComputeMerkleRoot(leaves []string) (string, error) {
	root, _, err := BuildMerkleTree(leaves)
	return root, err
}

// BuildMerkleTree builds every level of the tree (leaves included) and returns the
// root re-prefixed with "sha256:" plus every level, each entry sha256:-prefixed.
//
// Levels[0] holds the input leaves in the order supplied, digests lowercased. Odd-length
// levels duplicate their final element before pairing, per the spec's tie-break.
func BuildMerkleTree(leaves []string) (string, [][]string, error) {
	if len(leaves) == 0 {
		return "", nil, errEmptyLeaves
	}

	current := make([]string, len(leaves))
	for i, leaf := range leaves {
		digest, err := stripPrefix(leaf)
		if err != nil {
			return "", nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		current[i] = digest
	}

	levels := make([][]string, 0, 1)
	levels = append(levels, append([]string(nil), current...))

	for len(current) > 1 {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
		}
		next := make([]string, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next = append(next, hashPair(current[i], current[i+1]))
		}
		current = next
		levels = append(levels, append([]string(nil), current...))
	}

	root := sha256Prefix + current[0]

	prefixed := make([][]string, len(levels))
	for i, level := range levels {
		row := make([]string, len(level))
		for j, node := range level {
			row[j] = sha256Prefix + node
		}
		prefixed[i] = row
	}

	return root, prefixed, nil
}

// IsMerkleComputationError reports whether err originates from this package.
func IsMerkleComputationError(err error) bool {
	var target *MerkleComputationError
	return errors.As(err, &target)
}
