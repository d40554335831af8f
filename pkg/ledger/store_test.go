package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func leafHash(data string) string {
	h := sha256.Sum256([]byte(data))
	return "sha256:" + hex.EncodeToString(h[:])
}

func TestComputeProofPath_TwoLeaves(t *testing.T) {
	levels := [][]string{
		{leafHash("a"), leafHash("b")},
	}
	root := leafHash("root-placeholder")
	levels = append(levels, []string{root})

	path := computeProofPath(levels, 0)
	if len(path) != 1 {
		t.Fatalf("expected 1 sibling hash, got %d", len(path))
	}
	if path[0] != levels[0][1] {
		t.Errorf("sibling = %s, want %s", path[0], levels[0][1])
	}
}

func TestComputeProofPath_OddLeafDuplicatesSelf(t *testing.T) {
	levels := [][]string{
		{leafHash("a"), leafHash("b"), leafHash("c")},
		{leafHash("ab"), leafHash("cc")},
		{leafHash("root")},
	}

	path := computeProofPath(levels, 2)
	if len(path) != 2 {
		t.Fatalf("expected 2 siblings, got %d", len(path))
	}
	if path[0] != levels[0][2] {
		t.Errorf("level-0 sibling for duplicated leaf should be itself, got %s want %s", path[0], levels[0][2])
	}
}

func TestSortedJSON_SortsKeysAlphabetically(t *testing.T) {
	type unsorted struct {
		Zebra string `json:"zebra"`
		Alpha string `json:"alpha"`
	}
	out, err := sortedJSON(unsorted{Zebra: "z", Alpha: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"alpha":"a","zebra":"z"}`
	if string(out) != want {
		t.Errorf("sortedJSON = %s, want %s", out, want)
	}
}
