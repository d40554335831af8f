package verification

import "testing"

func TestCheckHygiene_RejectsSuspiciousKey(t *testing.T) {
	payload := map[string]interface{}{"content_hash": "sha256:abc", "media": "something"}
	if err := checkHygiene(payload, false); err == nil {
		t.Error("expected error for suspicious key")
	}
}

func TestCheckHygiene_RejectsDataURI(t *testing.T) {
	payload := map[string]interface{}{"note": "data:image/png;base64,AAA"}
	if err := checkHygiene(payload, false); err == nil {
		t.Error("expected error for embedded data URI")
	}
}

func TestCheckHygiene_RejectsOversizedString(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	payload := map[string]interface{}{"note": string(long)}
	if err := checkHygiene(payload, false); err == nil {
		t.Error("expected error for oversized string")
	}
}

func TestCheckHygiene_AllowsOversizedStringInManifestSummary(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	payload := map[string]interface{}{"manifest_summary": map[string]interface{}{"description": string(long)}}
	if err := checkHygiene(payload, false); err != nil {
		t.Errorf("unexpected error for long string inside manifest_summary: %v", err)
	}
}

func TestCheckHygiene_RejectsByteValue(t *testing.T) {
	payload := map[string]interface{}{"raw": []byte{1, 2, 3}}
	if err := checkHygiene(payload, false); err == nil {
		t.Error("expected error for byte-typed value")
	}
}

func TestCheckHygiene_AcceptsCleanPayload(t *testing.T) {
	payload := map[string]interface{}{
		"content_hash":  "sha256:abc",
		"manifest_hash": "sha256:def",
	}
	if err := checkHygiene(payload, false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
