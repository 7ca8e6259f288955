// Package fingerprint produces stable content hashes for job postings.
//
// Two textually-equivalent postings must collapse to one key regardless of
// casing or surrounding whitespace, so inputs are normalized before hashing.
// SHA-256 is used purely for key compactness and stability, not security.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// contentIDPrefix marks identifiers derived from posting content rather than
// assigned by an upstream feed.
const contentIDPrefix = "ch-"

// Hash returns the hex-encoded SHA-256 of the normalized
// (title, company, location) triple.
func Hash(title, company, location string) string {
	key := normalize(title) + "|" + normalize(company) + "|" + normalize(location)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ContentID derives a job identifier from posting content. Feeds that do not
// supply stable identifiers fall back to this scheme, and ledger lookups retry
// under it when the primary identifier misses.
func ContentID(title, company string) string {
	return contentIDPrefix + Hash(title, company, "")[:16]
}

// IsContentID reports whether id was produced by ContentID.
func IsContentID(id string) bool {
	return strings.HasPrefix(id, contentIDPrefix)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
