package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"task record", ErrTaskRecordNotFound, true},
		{"wrapped task record", fmt.Errorf("get: %w", ErrTaskRecordNotFound), true},
		{"store error", NewStoreError("task_history", "get", "no row", ErrTaskRecordNotFound), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsNotFoundError(tc.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewStoreError("task_history", "upsert", "write failed", cause)
	assert.Equal(t, "upsert operation on task_history failed: write failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewStoreError("process_stats", "list", "bad limit", nil)
	assert.Equal(t, "list operation on process_stats failed: bad limit", bare.Error())
}

func TestDailyStats_AverageTimeMS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(0), DailyStats{}.AverageTimeMS())
	assert.Equal(t, int64(1500), DailyStats{SuccessCount: 2, TotalTimeMS: 3000}.AverageTimeMS())
}
