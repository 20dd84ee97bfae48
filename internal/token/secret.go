package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewSecret generates a single-use secret for reset and verification links.
// The plaintext is handed to the notification collaborator exactly once;
// only the hash is ever persisted.
func NewSecret() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, HashToken(plaintext), nil
}

// HashToken returns the SHA256 hex digest of a token or secret. Refresh
// tokens and single-use secrets are stored only in this form, so possession
// of the database record alone cannot impersonate the flow.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
