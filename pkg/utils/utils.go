package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	digits       = "0123456789"
	alphanumeric = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I to avoid transcription mistakes
)

// HashCode returns the hex-encoded SHA-256 digest of a code or token.
// Used for at-rest storage; plaintext codes are never persisted.
func HashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	return hex.EncodeToString(hash[:])
}

// ConstantTimeEqual compares two strings without short-circuiting.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RandomDigits generates a cryptographically random numeric string.
func RandomDigits(length int) (string, error) {
	return randomFrom(digits, length)
}

// RandomAlphanumeric generates a cryptographically random alphanumeric
// string drawn from an unambiguous character set.
func RandomAlphanumeric(length int) (string, error) {
	return randomFrom(alphanumeric, length)
}

func randomFrom(charset string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	var builder strings.Builder
	builder.Grow(length)
	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		builder.WriteByte(charset[n.Int64()])
	}
	return builder.String(), nil
}

// MaskEmail masks the local part of an email address for display,
// e.g. "someone@example.com" becomes "s*****e@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}

	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + domain
}

// MaskPhone masks a phone number for display, keeping the last two digits,
// e.g. "+15005550006" becomes "**********06".
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
