package queue

import (
	"context"
	"fmt"
	"time"

	"data-act-broker/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 5 * time.Second

// RedisClient owns the connection pool shared by the local queue backend.
type RedisClient struct {
	client *redis.Client
	redis  config.RedisConfig
	queue  config.QueueConfig
}

func NewRedisClient(ctx context.Context, cfg *config.Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.RedisAddr(), err)
	}

	return &RedisClient{
		client: rdb,
		redis:  cfg.Redis,
		queue:  cfg.Queue,
	}, nil
}

// Queue returns the work queue named in the queue section, with its
// dead-letter list and receive limit taken from configuration.
func (r *RedisClient) Queue(log zerolog.Logger) *RedisQueue {
	return NewRedisQueue(r.client, r.queue.SQSQueueName, r.redis.DLQSuffix, r.queue.MaxReceiveCount, log)
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
