package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// rawKeyPrefix namespaces the undecoded bytes of a resource away from its
// re-encoded raster under the same cache key.
const rawKeyPrefix = "file_"

// EmptyKeyID is the identifier used for the empty key.
var EmptyKeyID = strings.Repeat("0", sha256.Size*2)

// HashKey maps an arbitrary cache key to a fixed-length, filesystem-safe
// identifier: the lowercase hex SHA-256 of the key bytes.
//
// Keys are not normalized, so two spellings of the same URL hash differently.
func HashKey(key string) string {
	if key == "" {
		return EmptyKeyID
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// RawKey returns the derived key under which the raw, pre-decode bytes of
// key are stored.
func RawKey(key string) string {
	return rawKeyPrefix + key
}
