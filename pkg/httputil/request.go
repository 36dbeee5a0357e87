package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bazaar/pkg/apperrors"
)

// ParseJSON decodes a single JSON object from the request body into dest.
// Unknown fields and trailing data are rejected.
func ParseJSON(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.InvalidInput("request body exceeds %d bytes", maxErr.Limit)
		}
		return apperrors.InvalidInput("invalid JSON: %v", err)
	}
	if dec.More() {
		return apperrors.InvalidInput("invalid JSON: unexpected data after object")
	}
	return nil
}

// ParsePathString extracts a required mux path variable
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.InvalidInput("missing path parameter: %s", key)
	}
	return str, nil
}

// ParseQueryInt extracts an integer query parameter bounded to [min, max]
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperrors.InvalidInput("invalid integer for query param %s: %s", key, str)
	}
	if val < min || val > max {
		return 0, apperrors.InvalidInput("query param %s must be between %d and %d", key, min, max)
	}
	return val, nil
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, apperrors.InvalidInput("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}

// Pagination is a parsed limit/offset pair
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit (default 20, max 100) and offset query params
func ParsePagination(r *http.Request) (Pagination, error) {
	limit, err := ParseQueryInt(r, "limit", 20, 1, 100)
	if err != nil {
		return Pagination{}, err
	}
	offset, err := ParseQueryInt(r, "offset", 0, 0, int(^uint32(0)>>1))
	if err != nil {
		return Pagination{}, err
	}
	return Pagination{Limit: limit, Offset: offset}, nil
}

// BearerToken extracts the credential from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return header[len(prefix):], nil
}
