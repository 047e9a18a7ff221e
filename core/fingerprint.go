package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the deterministic deduplication key for an issue from
// the raising agent plus discriminating parts (metric path, category+check).
// The same inputs always yield the same key, so re-raising an ongoing issue
// folds into the existing record.
func Fingerprint(agentName string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(agentName))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
	}
	return hex.EncodeToString(h.Sum(nil))
}
