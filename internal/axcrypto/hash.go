package axcrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ZeroHash is the well-known 64-hexit hash used as previous_hash at genesis.
var ZeroHash = strings.Repeat("0", 64)

// SHA256 returns the raw SHA-256 digest of b.
func SHA256(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// SHA256Hex returns the lower-case 64-hexit SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	return hex.EncodeToString(SHA256(b))
}

// IsValidHash reports whether s is a well-formed 64-hexit hash.
func IsValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
