package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"beautycort-auth/internal/client"
	"beautycort-auth/internal/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *client.RedisClient) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Redis: config.RedisConfig{
			URL:      "redis://" + mr.Addr(),
			PoolSize: 10,
		},
	}

	redisClient, err := client.NewRedisClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	return mr, redisClient
}
