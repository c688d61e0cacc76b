package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// contentHash returns the full sha1 hex digest of the trimmed content, used
// wherever a stable identity is needed for content that has no natural ID of
// its own.
func contentHash(content string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}
