package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]int{"id": 123}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", apperrors.InvalidField("email", "the email field is required"), http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"invalid reference", apperrors.InvalidReference("UNKNOWN_PERMISSIONS", "unknown permissions"), http.StatusUnprocessableEntity, "UNKNOWN_PERMISSIONS"},
		{"conflict", apperrors.Conflict("EMAIL_TAKEN", "taken"), http.StatusConflict, "EMAIL_TAKEN"},
		{"precondition", apperrors.PreconditionFailed("CANNOT_REMOVE_LAST_ADMIN", "last admin"), http.StatusConflict, "CANNOT_REMOVE_LAST_ADMIN"},
		{"unauthenticated", apperrors.Unauthenticated("INVALID_TOKEN", "invalid token"), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"forbidden", apperrors.Forbidden("SUPER_ADMIN_REQUIRED", "no"), http.StatusForbidden, "SUPER_ADMIN_REQUIRED"},
		{"not found", apperrors.NotFound("organization"), http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"signature", apperrors.SignatureInvalid(errors.New("bad mac")), http.StatusBadRequest, ""},
		{"rate limited", apperrors.RateLimited("slow down"), http.StatusTooManyRequests, ""},
		{"wrapped", fmt.Errorf("outer: %w", apperrors.NotFound("user")), http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			WriteAppError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}

	t.Run("fields and details are rendered", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		err := apperrors.Validation(map[string]string{"name": "the name field is required"}).WithDetail("hint", "x")

		WriteAppError(w, r, err)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "the name field is required", body.Fields["name"])
		assert.Equal(t, "x", body.Details["hint"])
	})

	t.Run("unclassified errors are hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)

		WriteAppError(w, r, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	})
}
