package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func leafHash(data string) string {
	h := sha256.Sum256([]byte(data))
	return sha256Prefix + hex.EncodeToString(h[:])
}

func TestBuildMerkleTree_SingleLeaf(t *testing.T) {
	leaf := leafHash("a")
	root, levels, err := BuildMerkleTree([]string{leaf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root != leaf {
		t.Errorf("root = %s, want %s", root, leaf)
	}
	if len(levels) != 1 {
		t.Fatalf("levels = %d, want 1", len(levels))
	}
}

func TestBuildMerkleTree_TwoLeaves(t *testing.T) {
	a := leafHash("a")
	b := leafHash("b")
	root, levels, err := BuildMerkleTree([]string{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aHex, _ := stripPrefix(a)
	bHex, _ := stripPrefix(b)
	want := sha256Prefix + hashPair(aHex, bHex)

	if root != want {
		t.Errorf("root = %s, want %s", root, want)
	}
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(levels))
	}
}

func TestBuildMerkleTree_OddLeavesDuplicatesLast(t *testing.T) {
	a := leafHash("a")
	b := leafHash("b")
	c := leafHash("c")

	rootOdd, _, err := BuildMerkleTree([]string{a, b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rootDup, _, err := BuildMerkleTree([]string{a, b, c, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rootOdd != rootDup {
		t.Errorf("odd-length root %s does not match duplicated-last root %s", rootOdd, rootDup)
	}
}

func TestBuildMerkleTree_FourLeaves(t *testing.T) {
	leaves := []string{leafHash("a"), leafHash("b"), leafHash("c"), leafHash("d")}
	root, levels, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("levels = %d, want 3", len(levels))
	}
	if root == "" {
		t.Error("root is empty")
	}
}

func TestBuildMerkleTree_EmptyLeaves(t *testing.T) {
	_, _, err := BuildMerkleTree(nil)
	if err == nil {
		t.Fatal("expected error for empty leaves")
	}
	if !IsMerkleComputationError(err) {
		t.Errorf("expected MerkleComputationError, got %T", err)
	}
}

func TestBuildMerkleTree_RejectsMissingPrefix(t *testing.T) {
	h := sha256.Sum256([]byte("a"))
	_, _, err := BuildMerkleTree([]string{hex.EncodeToString(h[:])})
	if err == nil {
		t.Fatal("expected error for missing sha256: prefix")
	}
}

func TestBuildMerkleTree_RejectsBadLength(t *testing.T) {
	_, _, err := BuildMerkleTree([]string{"sha256:abcd"})
	if err == nil {
		t.Fatal("expected error for short digest")
	}
}

func TestBuildMerkleTree_RejectsNonHex(t *testing.T) {
	bad := "sha256:" + string(make([]byte, 64))
	_, _, err := BuildMerkleTree([]string{bad})
	if err == nil {
		t.Fatal("expected error for non-hex digest")
	}
}

func TestComputeMerkleRoot_MatchesBuildMerkleTree(t *testing.T) {
	leaves := []string{leafHash("x"), leafHash("y"), leafHash("z")}
	root, err := ComputeMerkleRoot(leaves)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantRoot, _, err := BuildMerkleTree(leaves)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root != wantRoot {
		t.Errorf("root = %s, want %s", root, wantRoot)
	}
}

func TestBuildMerkleTree_Deterministic(t *testing.T) {
	leaves := []string{leafHash("1"), leafHash("2"), leafHash("3"), leafHash("4"), leafHash("5")}
	root1, _, _ := BuildMerkleTree(leaves)
	root2, _, _ := BuildMerkleTree(leaves)
	if root1 != root2 {
		t.Errorf("tree construction is not deterministic: %s != %s", root1, root2)
	}
}
