// Copyright 2025 Archive Origin
//
// Payload hygiene: rejects verification requests that smuggle raw media or
// otherwise oversized content instead of hashes and metadata.

package verification

import (
	"fmt"
	"strings"
)

var suspiciousKeys = map[string]bool{
	"media": true, "file": true, "binary": true, "payload": true,
	"image": true, "video": true, "audio": true, "blob": true,
}

const maxStringLength = 512

// checkHygiene recursively inspects a decoded JSON value (map/slice/scalar
// tree) for keys, byte values, or strings that indicate raw media was
// attached instead of a hash reference.
func checkHygiene(value interface{}, inManifestSummary bool) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if suspiciousKeys[strings.ToLower(key)] {
				return fmt.Errorf("payload_contains_raw_media: field %q is not permitted", key)
			}
			childInManifest := inManifestSummary || strings.EqualFold(key, "manifest_summary")
			if err := checkHygiene(child, childInManifest); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range v {
			if err := checkHygiene(child, inManifestSummary); err != nil {
				return err
			}
		}
	case []byte:
		return fmt.Errorf("payload_contains_raw_media: byte-typed value is not permitted")
	case string:
		lower := strings.ToLower(v)
		if strings.Contains(lower, "data:image") || strings.Contains(lower, "base64,") {
			return fmt.Errorf("payload_contains_raw_media: embedded data URI is not permitted")
		}
		if !inManifestSummary && len(v) > maxStringLength {
			return fmt.Errorf("payload_field_too_large: string exceeds %d characters", maxStringLength)
		}
	}
	return nil
}
