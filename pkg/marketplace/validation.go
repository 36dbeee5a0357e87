package marketplace

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
	"github.com/platinummonkey/bazaar/pkg/semver"
)

// lowercase alphanumerics separated by single hyphens
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("slug", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return slugPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("weburl", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return isWebURL(fl.Field().String())
	})
	// replaces the built-in tag so request validation and ordering share one grammar
	v.RegisterValidation("semver", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return semver.IsValid(fl.Field().String())
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure as
// InvalidInput
func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.InvalidInput("invalid request: %v", err)
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return apperrors.InvalidInput("%s is required", field)
	case "slug":
		return apperrors.InvalidInput("%s must be lowercase alphanumeric words separated by hyphens", field)
	case "semver":
		return apperrors.InvalidInput("%s %q is not a valid semantic version", field, fe.Value())
	case "weburl":
		return apperrors.InvalidInput("%s must be a URL", field)
	case "min", "max":
		return apperrors.InvalidInput("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	default:
		return apperrors.InvalidInput("%s failed %s validation", field, fe.Tag())
	}
}

// isWebURL accepts the empty string or an absolute http(s) URL
func isWebURL(s string) bool {
	if s == "" {
		return true
	}
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateVersionRequest checks a bundle upload beyond its struct tags
func validateVersionRequest(req *CreateVersionRequest) error {
	if !semver.IsValid(req.Version) {
		return apperrors.InvalidInput("version %q is not a valid semantic version", req.Version)
	}
	if len(req.Bundle) == 0 {
		return apperrors.InvalidInput("bundle is empty")
	}
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.MinAppVersion != "" && req.MaxAppVersion != "" &&
		semver.Compare(req.MinAppVersion, req.MaxAppVersion) > 0 {
		return apperrors.InvalidInput("min app version %s is greater than max app version %s", req.MinAppVersion, req.MaxAppVersion)
	}
	return validateManifest(req.Manifest)
}

// validateManifest accepts a YAML or JSON document whose top level is a
// mapping. The raw text is what gets stored.
func validateManifest(manifest string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(manifest), &doc); err != nil {
		return apperrors.InvalidInput("manifest is not valid YAML or JSON: %v", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return apperrors.InvalidInput("manifest must be an object")
	}
	return nil
}

// normalizePermissions removes duplicates and surrounding space, keeping
// first-seen order
func normalizePermissions(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func extensionIdentifier(publisherSlug, extensionSlug string) string {
	return fmt.Sprintf("%s/%s", publisherSlug, extensionSlug)
}
