package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/compositor/internal/api/shared"
	"github.com/phrazzld/compositor/internal/platform/logger"
	"github.com/phrazzld/compositor/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJWTService struct {
	claims *auth.Claims
	err    error
	token  string
}

func (f *fakeJWTService) GenerateToken(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeJWTService) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	f.token = token
	return f.claims, f.err
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	validClaims := &auth.Claims{Subject: "batch-runner", ExpiresAt: time.Now().Add(time.Hour)}

	tests := []struct {
		name       string
		header     string
		svc        *fakeJWTService
		wantStatus int
		wantError  string
	}{
		{"valid", "Bearer good-token", &fakeJWTService{claims: validClaims}, http.StatusOK, ""},
		{"lowercase scheme", "bearer good-token", &fakeJWTService{claims: validClaims}, http.StatusOK, ""},
		{"missing header", "", &fakeJWTService{}, http.StatusUnauthorized, "Authorization header required"},
		{"wrong scheme", "Basic abc", &fakeJWTService{}, http.StatusUnauthorized, "Invalid authorization format"},
		{"no token", "Bearer ", &fakeJWTService{}, http.StatusUnauthorized, "Invalid authorization format"},
		{"expired", "Bearer old", &fakeJWTService{err: auth.ErrExpiredToken}, http.StatusUnauthorized, "Token expired"},
		{"invalid", "Bearer bad", &fakeJWTService{err: auth.ErrInvalidToken}, http.StatusUnauthorized, "Invalid token"},
		{"not yet valid", "Bearer early", &fakeJWTService{err: auth.ErrTokenNotYetValid}, http.StatusUnauthorized, "Invalid token"},
		{"internal", "Bearer x", &fakeJWTService{err: errors.New("boom")}, http.StatusInternalServerError, "Authentication error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotClient string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClient, _ = shared.GetClient(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			NewAuthMiddleware(tc.svc).Authenticate(next).ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, "batch-runner", gotClient)
				assert.Equal(t, "good-token", tc.svc.token)
				return
			}
			assert.Contains(t, rec.Body.String(), tc.wantError)
			assert.Empty(t, gotClient)
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()

	var traceID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	NewTraceMiddleware(log)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))

	require.NotEmpty(t, traceID)
	assert.Equal(t, traceID, rec.Header().Get(TraceHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	entries, err := buf.Entries()
	require.NoError(t, err)

	var sawHandler, sawCompleted bool
	for _, e := range entries {
		assert.Equal(t, traceID, e["trace_id"])
		switch e["msg"] {
		case "inside handler":
			sawHandler = true
		case "request completed":
			sawCompleted = true
			assert.EqualValues(t, http.StatusTeapot, e["status"])
		}
	}
	assert.True(t, sawHandler)
	assert.True(t, sawCompleted)
}
