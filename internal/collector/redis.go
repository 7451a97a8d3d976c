package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the settings of the Redis span list.
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Key is the list ended spans are pushed onto
	Key string
	// MaxLen caps the list; older spans are trimmed
	MaxLen int64
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:   "localhost:6379",
		Key:    "glowroot:spans",
		MaxLen: 10000,
	}
}

// RedisExporter keeps a capped list of recently ended spans in Redis,
// newest first, as JSON.
type RedisExporter struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisExporter connects to Redis and checks the connection.
func NewRedisExporter(cfg RedisConfig) (*RedisExporter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisExporterWithClient(client, cfg), nil
}

// NewRedisExporterWithClient creates an exporter on an existing client
func NewRedisExporterWithClient(client *redis.Client, cfg RedisConfig) *RedisExporter {
	def := DefaultRedisConfig()
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = def.MaxLen
	}
	return &RedisExporter{client: client, key: cfg.Key, maxLen: cfg.MaxLen}
}

// SpanStarted is a no-op: only ended spans are published.
func (r *RedisExporter) SpanStarted(*Span) {}

// SpanEnded pushes s and trims the list in one round trip.
func (r *RedisExporter) SpanEnded(ctx context.Context, s *Span) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode span: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish span %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit spans, newest first.
func (r *RedisExporter) Recent(ctx context.Context, limit int) ([]*Span, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := r.client.LRange(ctx, r.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read spans: %w", err)
	}
	out := make([]*Span, 0, len(vals))
	for _, v := range vals {
		var s Span
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("failed to decode span: %w", err)
		}
		out = append(out, &s)
	}
	return out, nil
}

// Shutdown closes the Redis connection
func (r *RedisExporter) Shutdown(context.Context) error {
	return r.client.Close()
}
