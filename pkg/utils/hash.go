package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	return CalculatePartsSHA256([]byte(content))
}

// CalculatePartsSHA256 hashes several byte slices as one stream, each part
// followed by a zero byte so that ("ab","c") and ("a","bc") differ.
func CalculatePartsSHA256(parts ...[]byte) string {
	hash := sha256.New()
	for _, p := range parts {
		hash.Write(p)
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}
