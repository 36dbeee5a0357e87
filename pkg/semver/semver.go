// Package semver validates and orders semantic version strings.
//
// Version strings are written without a leading "v" (1.2.3, 2.0.0-rc.1+build.5).
// Precedence follows Semantic Versioning 2.0.0: build metadata is ignored and
// pre-release versions sort before the associated release.
package semver

import (
	"regexp"

	"golang.org/x/mod/semver"
)

// strict SemVer 2.0.0 grammar; x/mod/semver alone also accepts "v1" and "v1.2"
var pattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)` +
	`(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?` +
	`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// IsValid reports whether v is a full major.minor.patch semantic version
func IsValid(v string) bool {
	return pattern.MatchString(v) && semver.IsValid("v"+v)
}

// Compare returns -1, 0 or +1 by semantic version precedence.
// Invalid versions sort before all valid ones.
func Compare(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}

// Max returns the highest version in vs by precedence, or "" when vs is empty
func Max(vs []string) string {
	max := ""
	for _, v := range vs {
		if max == "" || Compare(v, max) > 0 {
			max = v
		}
	}
	return max
}

// GreaterThanAll reports whether v is strictly greater than every version in vs
func GreaterThanAll(v string, vs []string) bool {
	for _, other := range vs {
		if Compare(v, other) <= 0 {
			return false
		}
	}
	return true
}
