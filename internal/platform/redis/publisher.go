package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/events"
	goredis "github.com/redis/go-redis/v9"
)

// RecentLimit is the number of events retained in the recent list.
const RecentLimit = 100

// ErrNoStats is returned by LatestStats when no statistics were published yet.
var ErrNoStats = errors.New("no queue statistics published")

// Publisher forwards events to Redis. It implements events.EventHandler.
type Publisher struct {
	client    *goredis.Client
	channel   string
	statsKey  string
	recentKey string
	logger    *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher connects to the Redis server named in cfg and verifies the
// connection.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewPublisherWithClient(client, cfg.Channel, cfg.StatsKey, logger), nil
}

// NewPublisherWithClient creates a Publisher on an existing client.
func NewPublisherWithClient(client *goredis.Client, channel, statsKey string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:    client,
		channel:   channel,
		statsKey:  statsKey,
		recentKey: channel + ":recent",
		logger:    logger.With(slog.String("component", "redis_publisher")),
	}
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// HandleEvent publishes event on the channel. Events carrying statistics also
// replace the stored snapshot, and every event other than task progress is
// pushed onto the recent list.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.Event) error {
	if event == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if event.Stats != nil {
		stats, err := json.Marshal(event.Stats)
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		pipe.Set(ctx, p.statsKey, stats, 0)
	}
	if event.Type != events.TypeTaskProgress {
		pipe.LPush(ctx, p.recentKey, data)
		pipe.LTrim(ctx, p.recentKey, 0, RecentLimit-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// LatestStats returns the most recently published queue statistics.
func (p *Publisher) LatestStats(ctx context.Context) (*domain.QueueStats, error) {
	data, err := p.client.Get(ctx, p.statsKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNoStats
		}
		return nil, fmt.Errorf("get stats: %w", err)
	}

	var stats domain.QueueStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &stats, nil
}

// Recent returns up to n retained events, newest first.
func (p *Publisher) Recent(ctx context.Context, n int) ([]*events.Event, error) {
	if n <= 0 || n > RecentLimit {
		n = RecentLimit
	}

	items, err := p.client.LRange(ctx, p.recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}

	out := make([]*events.Event, 0, len(items))
	for _, item := range items {
		var e events.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			p.logger.WarnContext(ctx, "skipping malformed event", "error", err)
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}
