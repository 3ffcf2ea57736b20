package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the hex SHA-256 of s
func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fingerprint is a short, stable identifier for s, safe to put in logs
// in place of user text
func Fingerprint(s string) string {
	return HashString(s)[:12]
}
