package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/setlist/pkg/apperrors"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParsePathUUID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"canonical", "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b", "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b", false},
		{"upper case", "6F1C2A9E-3B4D-4E5F-8A7B-9C0D1E2F3A4B", "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b", false},
		{"not a uuid", "project-1", "", true},
		{"missing", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/projects/x", nil)
			req = mux.SetURLVars(req, map[string]string{"projectID": tt.value})

			got, err := ParsePathUUID(req, "projectID")
			if tt.wantErr {
				assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/projects?limit=25&offset=abc", nil)

	limit, err := ParseQueryInt(req, "limit", 50)
	assert.NoError(t, err)
	assert.Equal(t, 25, limit)

	missing, err := ParseQueryInt(req, "page", 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, missing)

	_, err = ParseQueryInt(req, "offset", 0)
	assert.Error(t, err)
}
