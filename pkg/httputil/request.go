package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/setlist/pkg/apperrors"
)

// ParseJSON decodes JSON from the request body into dest. Malformed bodies
// are validation errors.
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperrors.Validation("httputil.ParseJSON", "invalid JSON: %v", err)
	}
	return nil
}

// ParsePathString extracts a string path parameter
func ParsePathString(r *http.Request, key string) (string, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return "", apperrors.Validation("httputil.ParsePathString", "missing path parameter: %s", key)
	}
	return str, nil
}

// ParsePathUUID extracts a path parameter that must be a UUID and returns it
// in canonical form
func ParsePathUUID(r *http.Request, key string) (string, error) {
	str, err := ParsePathString(r, key)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return "", apperrors.Validation("httputil.ParsePathUUID", "invalid %s: %s", key, str)
	}
	return id.String(), nil
}

// ParseQueryInt extracts and parses an integer query parameter
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, apperrors.Validation("httputil.ParseQueryInt", "invalid integer for query param %s: %s", key, str)
	}
	return val, nil
}
