package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyGenerator_GenerateKey(t *testing.T) {
	g := NewKeyGenerator()

	key, keyHash, prefix, err := g.GenerateKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, APIKeyPrefix))
	assert.Len(t, keyHash, 64)
	assert.Equal(t, g.HashKey(key), keyHash)
	assert.Equal(t, key[:len(APIKeyPrefix)+8], prefix)
	assert.NoError(t, g.ValidateKeyFormat(key))
}

func TestKeyGenerator_GenerateKey_Uniqueness(t *testing.T) {
	g := NewKeyGenerator()

	keys := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, _, _, err := g.GenerateKey()
		require.NoError(t, err)
		assert.False(t, keys[key], "duplicate key generated")
		keys[key] = true
	}
}

func TestKeyGenerator_HashKey(t *testing.T) {
	g := NewKeyGenerator()

	assert.Equal(t, g.HashKey("bzr_abc"), g.HashKey("bzr_abc"))
	assert.NotEqual(t, g.HashKey("bzr_abc"), g.HashKey("bzr_abd"))
	assert.NotContains(t, g.HashKey("bzr_abc"), "bzr_")
}

func TestKeyGenerator_ValidateKeyFormat(t *testing.T) {
	g := NewKeyGenerator()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "bzr_" + strings.Repeat("A", 43), false},
		{"wrong prefix", "tok_abc", true},
		{"empty secret", "bzr_", true},
		{"bad encoding", "bzr_not*base64", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateKeyFormat(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsAPIKey(t *testing.T) {
	assert.True(t, IsAPIKey("bzr_xyz"))
	assert.False(t, IsAPIKey("eyJhbGciOiJIUzI1NiJ9.e30.sig"))
	assert.False(t, IsAPIKey(""))
}
