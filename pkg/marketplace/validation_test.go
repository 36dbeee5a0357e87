package marketplace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
)

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		ok       bool
	}{
		{"json object", `{"name": "tool"}`, true},
		{"yaml mapping", "name: tool\nentry: index.js\n", true},
		{"json array", `["a", "b"]`, false},
		{"scalar", `tool`, false},
		{"empty", ``, false},
		{"malformed", `{"name": `, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateManifest(tt.manifest)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
		})
	}
}

func TestValidateVersionRequest(t *testing.T) {
	valid := func() CreateVersionRequest {
		return CreateVersionRequest{Version: "1.2.0", Bundle: []byte("zip"), Manifest: `{"a": 1}`}
	}

	tests := []struct {
		name   string
		mutate func(*CreateVersionRequest)
		ok     bool
	}{
		{"valid", func(*CreateVersionRequest) {}, true},
		{"prerelease", func(r *CreateVersionRequest) { r.Version = "2.0.0-beta.1" }, true},
		{"bad version", func(r *CreateVersionRequest) { r.Version = "1.2" }, false},
		{"empty bundle", func(r *CreateVersionRequest) { r.Bundle = []byte{} }, false},
		{"missing manifest", func(r *CreateVersionRequest) { r.Manifest = "" }, false},
		{"bad min app", func(r *CreateVersionRequest) { r.MinAppVersion = "latest" }, false},
		{"app range", func(r *CreateVersionRequest) { r.MinAppVersion, r.MaxAppVersion = "1.0.0", "2.0.0" }, true},
		{"inverted range", func(r *CreateVersionRequest) { r.MinAppVersion, r.MaxAppVersion = "3.0.0", "2.0.0" }, false},
		{"blank permission", func(r *CreateVersionRequest) { r.Permissions = []string{""} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := validateVersionRequest(&req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err), "error: %v", err)
		})
	}
}

func TestNormalizePermissions(t *testing.T) {
	got := normalizePermissions([]string{" net ", "fs", "", "net", "fs:read"})
	assert.Equal(t, []string{"net", "fs", "fs:read"}, got)
	assert.Empty(t, normalizePermissions(nil))
}

func TestIsWebURL(t *testing.T) {
	assert.True(t, isWebURL(""))
	assert.True(t, isWebURL("https://example.com/tool"))
	assert.True(t, isWebURL("http://localhost:8080"))
	assert.False(t, isWebURL("ftp://example.com"))
	assert.False(t, isWebURL("example.com"))
	assert.False(t, isWebURL("https://"))
}

func TestSlugPattern(t *testing.T) {
	for _, s := range []string{"tool", "my-tool", "a1-b2-c3"} {
		assert.True(t, slugPattern.MatchString(s), s)
	}
	for _, s := range []string{"", "Tool", "-tool", "tool-", "my--tool", "my_tool"} {
		assert.False(t, slugPattern.MatchString(s), s)
	}
}
