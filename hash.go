package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const digestPrefix = "sha256:"

// SHA256Hex returns the lowercase hex SHA-256 digest of data. It is the key
// every value is stored under.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256HexString hashes the UTF-8 bytes of s.
func SHA256HexString(s string) string {
	return SHA256Hex([]byte(s))
}

// ValidKey reports whether key has the shape of a SHA256Hex digest.
func ValidKey(key string) bool {
	if len(key) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NormalizeKey strips an OCI style "sha256:" prefix.
func NormalizeKey(key string) string {
	return strings.TrimPrefix(key, digestPrefix)
}
