package task

import (
	"crypto/sha256"
	"encoding/hex"
)

// idLength is the number of hex characters kept from the fingerprint.
// 48 bits keeps collisions negligible at realistic task volumes while
// the filenames stay short enough to read in diffs.
const idLength = 12

// DeriveID computes the stable document id for a (project, name) pair.
// The id is a truncated SHA-256 of "project:name", so creating the same
// pair twice yields the same id and the later document replaces the
// earlier one.
func DeriveID(project, name string) string {
	sum := sha256.Sum256([]byte(project + ":" + name))
	return hex.EncodeToString(sum[:])[:idLength]
}
