package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// secretBytes is the amount of randomness in an issued secret (256 bits).
const secretBytes = 32

// Issue returns a new hex-encoded bearer secret drawn from crypto/rand.
func Issue() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Fingerprint computes the SHA-256 hex digest stored in place of a bearer
// secret. Node tokens and API keys are high-entropy, so a fast hash is enough.
func Fingerprint(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// Verify reports whether secret hashes to the stored fingerprint.
func Verify(secret, fingerprint string) bool {
	computed := Fingerprint(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(fingerprint)) == 1
}
