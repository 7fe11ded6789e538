// proof-of-human/utils/security.go
package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives every option token 128 bits of entropy.
const tokenBytes = 16

// NewToken returns a fresh unguessable URL-safe token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokensEqual compares two option tokens in constant time.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BtoI converts a boolean to an integer (1 for true, 0 for false).
func BtoI(b bool) int {
	if b {
		return 1
	}
	return 0
}
