package lockproof

import (
	"testing"
)

func TestRandomShortcode_Length(t *testing.T) {
	code, err := randomShortcode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != shortcodeLength {
		t.Errorf("length = %d, want %d", len(code), shortcodeLength)
	}
}

func TestRandomShortcode_AlphabetOnly(t *testing.T) {
	code, err := randomShortcode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range code {
		found := false
		for _, a := range shortcodeAlphabet {
			if c == a {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("character %q not in alphabet", c)
		}
	}
}

func TestParseISO8601_AcceptsTrailingZ(t *testing.T) {
	if _, err := parseISO8601("2026-01-01T00:00:00Z"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseISO8601_RejectsGarbage(t *testing.T) {
	if _, err := parseISO8601("not-a-timestamp"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}

func TestAssetHashPattern(t *testing.T) {
	valid := "sha256:" + stringsRepeatA(64)
	if !assetHashPattern.MatchString(valid) {
		t.Errorf("expected %s to match asset hash pattern", valid)
	}
	if assetHashPattern.MatchString("sha256:short") {
		t.Error("expected short digest to be rejected")
	}
}

func stringsRepeatA(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
