package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	valid := []string{"0.0.1", "1.0.0", "10.20.30", "1.0.0-alpha", "1.0.0-alpha.1", "1.0.0-rc.1+build.5", "1.0.0+20130313144700"}
	for _, v := range valid {
		assert.True(t, IsValid(v), v)
	}

	invalid := []string{"", "1", "1.2", "v1.2.3", "01.2.3", "1.02.3", "1.2.3-", "1.2.3-01", "1.2.3.4", "latest", "1.2.3 "}
	for _, v := range invalid {
		assert.False(t, IsValid(v), v)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "0.9.0", 1},
		{"1.0.0", "1.0.0", 0},
		{"1.0.0-alpha", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0-alpha.1", -1},
		{"1.0.0-beta.2", "1.0.0-beta.11", -1},
		{"1.0.0+build.1", "1.0.0+build.2", 0},
		{"1.10.0", "1.9.0", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestMaxAndGreaterThanAll(t *testing.T) {
	published := []string{"1.0.0", "1.2.0", "1.1.5"}

	assert.Equal(t, "1.2.0", Max(published))
	assert.Equal(t, "", Max(nil))

	assert.True(t, GreaterThanAll("1.2.1", published))
	assert.False(t, GreaterThanAll("1.2.0", published))
	assert.False(t, GreaterThanAll("1.2.0+build.7", published))
	assert.False(t, GreaterThanAll("1.2.1-rc.1", []string{"1.2.1"}))
	assert.True(t, GreaterThanAll("0.1.0", nil))
}
