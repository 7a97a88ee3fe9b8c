package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readSSE reads one server-sent event block, skipping comment blocks.
func readSSE(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	for {
		fields := map[string]string{}
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				break
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			key, value, _ := strings.Cut(line, ": ")
			fields[key] = value
		}
		if len(fields) > 0 {
			return fields
		}
	}
}

func TestEventsStream(t *testing.T) {
	emitter := events.NewInMemoryEventEmitter(testLogger())
	handler := NewEventsHandler(emitter, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(handler.Stream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return emitter.HandlerCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	taskID := uuid.New()
	sent := events.NewTaskProgress(taskID, 40, "compositing")
	require.NoError(t, emitter.EmitEvent(ctx, sent))

	fields := readSSE(t, bufio.NewReader(resp.Body))
	assert.Equal(t, sent.ID.String(), fields["id"])
	assert.Equal(t, string(events.TypeTaskProgress), fields["event"])

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(fields["data"]), &got))
	assert.Equal(t, 40, got.Percent)
	assert.Equal(t, taskID, *got.TaskID)

	cancel()
	assert.Eventually(t, func() bool { return emitter.HandlerCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventsStream_KeepAlive(t *testing.T) {
	emitter := events.NewInMemoryEventEmitter(testLogger())
	handler := NewEventsHandler(emitter, testLogger())
	handler.keepAlive = 10 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(handler.Stream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	r := bufio.NewReader(resp.Body)
	var sawKeepAlive bool
	for i := 0; i < 10 && !sawKeepAlive; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		sawKeepAlive = strings.HasPrefix(line, ": keep-alive")
	}
	assert.True(t, sawKeepAlive)
}
