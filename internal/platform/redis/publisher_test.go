package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/events"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChannel  = "compositor:events"
	testStatsKey = "compositor:stats"
)

func setupPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	p, err := NewPublisher(config.EventsConfig{
		RedisAddr: mr.Addr(),
		Channel:   testChannel,
		StatsKey:  testStatsKey,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p, mr
}

func completedTask(t *testing.T) domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.ImageInputs{BackgroundPath: "bg.png", ProductPath: "p.png"}, "", nil)
	require.NoError(t, err)
	require.NoError(t, task.MarkProcessing())
	require.NoError(t, task.MarkCompleted("out/p.png"))
	return task.Snapshot()
}

func TestNewPublisher_ConnectionFailure(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(config.EventsConfig{}, nil)
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewPublisher(config.EventsConfig{RedisAddr: addr, Channel: testChannel, StatsKey: testStatsKey}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection failed")
}

func TestHandleEvent_PublishesOnChannel(t *testing.T) {
	p, mr := setupPublisher(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, testChannel)
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event := events.NewTaskStarted(uuid.New())
	require.NoError(t, p.HandleEvent(ctx, event))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, testChannel, msg.Channel)

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, events.TypeTaskStarted, got.Type)
	assert.Equal(t, *event.TaskID, *got.TaskID)
}

func TestHandleEvent_StoresStatsSnapshot(t *testing.T) {
	p, mr := setupPublisher(t)
	ctx := context.Background()

	_, err := p.LatestStats(ctx)
	assert.ErrorIs(t, err, ErrNoStats)

	stats := domain.QueueStats{Total: 4, Completed: 2, Failed: 1, Pending: 1, Progress: 75}
	require.NoError(t, p.HandleEvent(ctx, events.NewQueueProgress(stats)))

	assert.True(t, mr.Exists(testStatsKey))
	got, err := p.LatestStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, *got)

	final := domain.QueueStats{Total: 4, Completed: 3, Failed: 1, Progress: 100}
	require.NoError(t, p.HandleEvent(ctx, events.NewQueueCompleted(final)))

	got, err = p.LatestStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, final, *got)
}

func TestHandleEvent_RecentSkipsProgress(t *testing.T) {
	p, _ := setupPublisher(t)
	ctx := context.Background()

	task := completedTask(t)
	require.NoError(t, p.HandleEvent(ctx, events.NewTaskStarted(task.ID)))
	require.NoError(t, p.HandleEvent(ctx, events.NewTaskProgress(task.ID, 50, "compositing")))
	require.NoError(t, p.HandleEvent(ctx, events.NewTaskFinished(task)))
	require.NoError(t, p.HandleEvent(ctx, nil))

	recent, err := p.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, events.TypeTaskCompleted, recent[0].Type)
	assert.Equal(t, "out/p.png", recent[0].OutputPath)
	require.NotNil(t, recent[0].Task)
	assert.Equal(t, domain.TaskStatusCompleted, recent[0].Task.Status)
	assert.Equal(t, events.TypeTaskStarted, recent[1].Type)
}

func TestRecent_TrimsToLimit(t *testing.T) {
	p, mr := setupPublisher(t)
	ctx := context.Background()

	for i := 0; i < RecentLimit+5; i++ {
		require.NoError(t, p.HandleEvent(ctx, events.NewTaskStarted(uuid.New())))
	}

	items, err := mr.List(testChannel + ":recent")
	require.NoError(t, err)
	assert.Len(t, items, RecentLimit)

	recent, err := p.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, RecentLimit)

	recent, err = p.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestHandleEvent_ServerGone(t *testing.T) {
	p, mr := setupPublisher(t)
	mr.Close()

	err := p.HandleEvent(context.Background(), events.NewTaskStarted(uuid.New()))
	assert.Error(t, err)
}
