package recompute

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the canonical JSON encoding of a result with BLAKE3.
// The Fingerprint field itself is excluded. Decimals encode as their exact
// string form and times as RFC3339 UTC, so equal state always hashes equally.
func Fingerprint(r *Result) (string, error) {
	payload := *r
	payload.Fingerprint = ""

	h := blake3.New()
	if err := json.NewEncoder(h).Encode(payload); err != nil {
		return "", fmt.Errorf("failed to encode result for fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
