// Package identity derives content fingerprints and stable ids.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// FingerprintLen is the length of a hex fingerprint.
const FingerprintLen = sha256.Size * 2

// Fingerprint returns the lowercase hex SHA-256 of data.
func Fingerprint(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ValidFingerprint reports whether s has the shape Fingerprint produces.
func ValidFingerprint(s string) bool {
	if len(s) != FingerprintLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NewDocumentID returns a fresh id for an ingestion attempt.
func NewDocumentID() string {
	return uuid.NewString()
}

// ChunkID is deterministic in (documentID, index), so regenerating a
// document's chunks reproduces the same ids.
func ChunkID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID+"#"+strconv.Itoa(index))).String()
}
