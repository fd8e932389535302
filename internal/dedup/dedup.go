package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// KeyLength is the length of every key returned by Key.
const KeyLength = sha256.Size * 2

// Everything from the first tracking parameter to the end of the URL is
// dropped, including any parameters that follow it.
var trackingParamRe = regexp.MustCompile(`[?&](utm_|ref=|source=).*`)

// Normalize lowercases rawURL and strips tracking parameters.
func Normalize(rawURL string) string {
	lowered := strings.ToLower(strings.TrimSpace(rawURL))

	return trackingParamRe.ReplaceAllString(lowered, "")
}

// Key returns the hex SHA-256 of the normalized URL.
func Key(rawURL string) string {
	hash := sha256.Sum256([]byte(Normalize(rawURL)))

	return hex.EncodeToString(hash[:])
}
