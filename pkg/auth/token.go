package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyPrefix identifies bazaar API keys
	APIKeyPrefix = "bzr_"
	// KeyLength is the number of random bytes in a key (32 bytes = 256 bits)
	KeyLength = 32
	// displayChars is how much of the secret is kept for display
	displayChars = 8
)

// KeyGenerator generates and hashes publisher API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// GenerateKey creates a new API key.
// Format: bzr_<base64url(32 random bytes)>
// The plaintext key is returned to the caller once; only keyHash and
// displayPrefix are persisted.
func (g *KeyGenerator) GenerateKey() (key string, keyHash string, displayPrefix string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	key = APIKeyPrefix + encoded

	return key, g.HashKey(key), APIKeyPrefix + encoded[:displayChars], nil
}

// HashKey computes the SHA256 hash of a full key for lookup
func (g *KeyGenerator) HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// IsAPIKey reports whether a credential should take the API key path
func IsAPIKey(credential string) bool {
	return strings.HasPrefix(credential, APIKeyPrefix)
}

// ValidateKeyFormat checks if a key has the correct format
func (g *KeyGenerator) ValidateKeyFormat(key string) error {
	if !IsAPIKey(key) {
		return fmt.Errorf("key must start with %q", APIKeyPrefix)
	}

	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) == 0 {
		return fmt.Errorf("key is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}

	return nil
}
