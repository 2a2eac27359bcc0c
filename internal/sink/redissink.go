package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortontech/gosegment/internal/metrics"
)

// RedisConfig holds configuration for the Redis stream sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate trim; 0 keeps everything
}

// RedisSink appends each message to a Redis stream with XADD.
type RedisSink struct {
	config  RedisConfig
	rdb     *redis.Client
	metrics *metrics.Metrics
}

const redisOpTimeout = 3 * time.Second

// NewRedisSinkFromEnv creates a RedisSink from REDIS_* environment variables.
func NewRedisSinkFromEnv() *RedisSink {
	return &RedisSink{
		config: RedisConfig{
			Addr:     getEnvOr("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOr("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Stream:   getEnvOr("REDIS_STREAM", "gosegment:requests"),
			MaxLen:   int64(getIntEnv("REDIS_MAXLEN", 100000)),
		},
		metrics: metrics.GetMetrics(),
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Start(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:         s.config.Addr,
		Password:     s.config.Password,
		DB:           s.config.DB,
		MaxRetries:   3,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", s.config.Addr, err)
	}
	s.rdb = rdb
	return nil
}

func (s *RedisSink) xaddArgs(m Message) (*redis.XAddArgs, error) {
	req, err := json.Marshal(m.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.config.Stream,
		Values: map[string]any{
			"id":         m.ID,
			"kind":       string(m.Kind),
			"created_at": m.CreatedAt.Format(time.RFC3339Nano),
			"request":    string(req),
		},
	}
	if s.config.MaxLen > 0 {
		args.MaxLen = s.config.MaxLen
		args.Approx = true
	}
	return args, nil
}

func (s *RedisSink) Enqueue(m Message) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client not initialized")
	}
	args, err := s.xaddArgs(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.config.Stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.rdb == nil {
		return nil
	}
	err := s.rdb.Close()
	s.rdb = nil
	return err
}
