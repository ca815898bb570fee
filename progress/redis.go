package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the default pub/sub channel node events publish to.
const DefaultChannel = "forge:node_events"

// DefaultTimeout is the default per-publish timeout shared by both sinks.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is a retry count exported for callers building either
// sink's config; neither constructor substitutes it for a zero Retries.
const DefaultRetries = 3

const defaultQueueDepth = 1024

// RedisConfig configures RedisSink.
type RedisConfig struct {
	// URL is the Redis connection URL (required). Format:
	// redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default DefaultChannel).
	Channel string
	// Timeout is the per-publish timeout (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure; zero means a
	// single attempt with no retry.
	Retries int
}

// RedisSink publishes node events to a Redis pub/sub channel from a
// background goroutine, so a slow or unreachable Redis never blocks the
// scheduler. Directly adapted from adapter/redis/redis.go's exponential
// backoff retry loop; the synchronous Publish/Adapter pair there is
// replaced here with a buffered channel and a single consumer goroutine,
// since a progress Sink's contract -- unlike a run-completion Adapter's --
// forbids blocking the caller at all, not just bounding how long it
// blocks.
type RedisSink struct {
	cfg    RedisConfig
	client *goredis.Client
	events chan Event
	done   chan struct{}
}

// NewRedisSink dials cfg.URL and starts the background publish loop.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("progress: redis sink requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("progress: invalid redis URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("progress: retries must be >= 0, got %d", cfg.Retries)
	}

	s := &RedisSink{
		cfg:    cfg,
		client: goredis.NewClient(opts),
		events: make(chan Event, defaultQueueDepth),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Publish enqueues e for the background loop, dropping it if the queue is
// full rather than blocking the caller: progress events are best-effort
// observability, never correctness.
func (s *RedisSink) Publish(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *RedisSink) loop() {
	for e := range s.events {
		s.publishOne(e)
	}
	close(s.done)
}

func (s *RedisSink) publishOne(e Event) {
	body, err := json.Marshal(payloadFor(e))
	if err != nil {
		return
	}

	attempts := 1 + s.cfg.Retries
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * 500 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		pubErr := s.client.Publish(ctx, s.cfg.Channel, body).Err()
		cancel()
		if pubErr == nil {
			return
		}
	}
}

// Close drains the queue, waits for the background loop to exit, and
// closes the underlying Redis client.
func (s *RedisSink) Close() error {
	close(s.events)
	<-s.done
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
