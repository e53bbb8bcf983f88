package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const (
	// SessionTokenLength is the number of characters in a session token.
	SessionTokenLength = 40

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// fingerprintLength is how much of a token digest appears in logs and events.
	fingerprintLength = 12
)

// GenerateSessionToken returns a random 40-character token drawn from
// lowercase letters and digits.
//
// Each character takes the top 6 bits of a random uint32 and rejects
// draws of 36 or more, so every symbol is equally likely.
func GenerateSessionToken() (string, error) {
	out := make([]byte, 0, SessionTokenLength)
	var buf [4]byte
	for len(out) < SessionTokenLength {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		idx := binary.BigEndian.Uint32(buf[:]) >> 26
		if idx < uint32(len(tokenAlphabet)) {
			out = append(out, tokenAlphabet[idx])
		}
	}
	return string(out), nil
}

// IsWellFormedToken reports whether s has the shape of a session token.
func IsWellFormedToken(s string) bool {
	if len(s) != SessionTokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Digest returns the hex SHA-256 of secret.
func Digest(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// Fingerprint returns a short prefix of Digest(token) for logs and events.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return Digest(token)[:fingerprintLength]
}
