package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// SelectorHash is the content hash identity of a selector string: two
// occurrences of the same selector text always collapse to one record.
func SelectorHash(selector string) string {
	sum := sha256.Sum256([]byte(selector))
	return hex.EncodeToString(sum[:])
}
