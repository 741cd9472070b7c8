package main

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// serviceHealth implements api.HealthChecker: a redis PING and the asynq
// queue depth, the two numbers the /health response surfaces beyond uptime.
type serviceHealth struct {
	redis     *redis.Client
	inspector *asynq.Inspector
	queue     string
}

func newServiceHealth(redisClient *redis.Client, redisOpt asynq.RedisClientOpt) *serviceHealth {
	return &serviceHealth{
		redis:     redisClient,
		inspector: asynq.NewInspector(redisOpt),
		queue:     "default",
	}
}

func (h *serviceHealth) PingRedis(ctx context.Context) error {
	return h.redis.Ping(ctx).Err()
}

func (h *serviceHealth) QueueDepth(_ context.Context) (int, error) {
	info, err := h.inspector.GetQueueInfo(h.queue)
	if err != nil {
		return 0, err
	}
	return info.Pending + info.Active + info.Scheduled + info.Retry, nil
}
