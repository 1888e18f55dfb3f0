package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const maxSafeNameBytes = 240

// safeFilename renders an artifact ID as a URL-safe filename
// ([A-Za-z0-9._-], percent-encoding everything else), truncating to 240
// bytes and appending a short hash suffix on truncation to preserve
// uniqueness, per spec §6.
func safeFilename(artifactID string) string {
	var b strings.Builder
	for i := 0; i < len(artifactID); i++ {
		c := artifactID[i]
		if isSafeByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	encoded := b.String()

	if len(encoded) <= maxSafeNameBytes {
		return encoded
	}

	sum := sha256.Sum256([]byte(artifactID))
	suffix := "-" + hex.EncodeToString(sum[:])[:8]
	cut := maxSafeNameBytes - len(suffix)
	if cut < 0 {
		cut = 0
	}
	return encoded[:cut] + suffix
}

func isSafeByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	default:
		return false
	}
}
