package apperrors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"unauthorized", Unauthorized("op", "no identity"), http.StatusUnauthorized},
		{"forbidden", Forbidden("op", "not a member"), http.StatusForbidden},
		{"insufficient role", InsufficientRole("op", "admin required"), http.StatusForbidden},
		{"not found", NotFound("op", "project not found"), http.StatusNotFound},
		{"validation", Validation("op", "bad tenant id"), http.StatusBadRequest},
		{"conflict", Conflict("op", "already a member"), http.StatusConflict},
		{"internal", Internal("op", sql.ErrConnDone), http.StatusInternalServerError},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("handler: %w", NotFound("op", "gone")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}

func TestIsForbiddenCoversInsufficientRole(t *testing.T) {
	assert.True(t, IsForbidden(Forbidden("op", "x")))
	assert.True(t, IsForbidden(InsufficientRole("op", "x")))
	assert.False(t, IsForbidden(NotFound("op", "x")))
	assert.False(t, IsForbidden(nil))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFound("projects.Get", "project not found"))
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindForbidden}))
}

func TestInternalUnwrapsAndHidesCause(t *testing.T) {
	err := Internal("users.Get", sql.ErrConnDone)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "users.Get")
	assert.Equal(t, "internal server error", PublicMessage(err))
	assert.Equal(t, "project not found", PublicMessage(NotFound("op", "project not found")))
}
