package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTokenValidator struct {
	validTokens map[string]uuid.UUID
}

func (v *testTokenValidator) ValidateToken(tokenString string) (UserIDGetter, error) {
	userID, ok := v.validTokens[tokenString]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return testClaims(userID), nil
}

type testClaims uuid.UUID

func (c testClaims) GetUserID() uuid.UUID {
	return uuid.UUID(c)
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := GetUserID(r)
		require.NoError(t, err)
		_, _ = w.Write([]byte(userID.String()))
	})
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	validator := &testTokenValidator{validTokens: map[string]uuid.UUID{
		"good-token": userID,
		"nil-user":   uuid.Nil,
	}}
	handler := AuthMiddleware(validator, Options{QueryParam: "access_token"})(echoUser(t))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "valid bearer", header: "Bearer good-token", status: http.StatusOK},
		{name: "scheme is case-insensitive", header: "bearer good-token", status: http.StatusOK},
		{name: "query fallback", query: "?access_token=good-token", status: http.StatusOK},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good-token", status: http.StatusUnauthorized},
		{name: "extra parts", header: "Bearer good token", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer bad-token", status: http.StatusUnauthorized},
		{name: "nil user", header: "Bearer nil-user", status: http.StatusUnauthorized},
		{name: "bad header beats query", header: "Token x", query: "?access_token=good-token", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/automation/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String(), rec.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthMiddleware_QueryDisabledByDefault(t *testing.T) {
	validator := &testTokenValidator{validTokens: map[string]uuid.UUID{"good-token": uuid.New()}}
	handler := AuthMiddleware(validator)(echoUser(t))

	req := httptest.NewRequest(http.MethodGet, "/automation/logs/stream?access_token=good-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUserID(t *testing.T) {
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := GetUserID(req)
	assert.Error(t, err)

	req = req.WithContext(WithUserID(req.Context(), userID))
	got, err := GetUserID(req)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	req = req.WithContext(context.WithValue(context.Background(), userIDKey, "not-a-uuid"))
	_, err = GetUserID(req)
	assert.Error(t, err)
}
