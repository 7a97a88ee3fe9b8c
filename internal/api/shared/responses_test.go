package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/compositor/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, req, http.StatusOK, map[string]int{"count": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), TraceIDKey, "test-trace-id")
	req := httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithError(w, req, http.StatusBadRequest, "Invalid request")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request", resp.Error)
	assert.Equal(t, "test-trace-id", resp.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"server error", http.StatusInternalServerError, "ERROR"},
		{"conflict", http.StatusConflict, "WARN"},
		{"rate limited", http.StatusTooManyRequests, "WARN"},
		{"bad request", http.StatusBadRequest, "DEBUG"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			log, buf := logger.NewTestLogger()
			ctx := logger.WithLogger(context.WithValue(context.Background(), TraceIDKey, "trace-1"), log)
			req := httptest.NewRequest(http.MethodPost, "/tasks", nil).WithContext(ctx)
			w := httptest.NewRecorder()

			RespondWithErrorAndLog(w, req, tc.status, "Something failed",
				errors.New("dial postgres://admin:hunter2@db:5432 failed"))

			assert.Equal(t, tc.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "Something failed", resp.Error)
			assert.Equal(t, "trace-1", resp.TraceID)
			assert.NotContains(t, w.Body.String(), "hunter2")

			entries, err := buf.Entries()
			require.NoError(t, err)
			require.NotEmpty(t, entries)
			last := entries[len(entries)-1]
			assert.Equal(t, tc.wantLevel, last["level"])
			assert.Equal(t, "API error response", last["msg"])
			assert.NotContains(t, last["error"], "hunter2")
		})
	}
}

func TestTraceIDAndClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	assert.Len(t, GetTraceID(traced), TraceIDLength*2)
	assert.NotEqual(t, GetTraceID(traced), GetTraceID(SetTraceID(ctx)))

	_, ok := GetClient(ctx)
	assert.False(t, ok)
	client, ok := GetClient(context.WithValue(ctx, ClientContextKey, "runner"))
	assert.True(t, ok)
	assert.Equal(t, "runner", client)

	assert.Len(t, generateFallbackTraceID(), TraceIDLength*2)
}
