package jobqueue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/ManuelReschke/ProfileSync/internal/pkg/env"
	"github.com/ManuelReschke/ProfileSync/internal/pkg/metrics/counter"
)

// Tests that touch Redis use their own logical DB so a developer cache is
// never flushed.
const isolatedRefreshQueueTestRedisDB = 14

// testRedisAddrs lists candidate endpoints: the configured one first, then
// the docker compose service names and loopback.
func testRedisAddrs() []string {
	port := env.GetEnv("CACHE_PORT", "6379")
	hosts := lo.Uniq(lo.Compact([]string{env.GetEnv("CACHE_HOST", ""), "cache", "profilesync-cache", "localhost", "127.0.0.1"}))
	return lo.Map(hosts, func(h string, _ int) string { return net.JoinHostPort(h, port) })
}

func pingRedis(client *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// newIsolatedRedisClient connects to the first reachable Redis on db and
// clears the queue keys before and after the test. The test is skipped when
// no Redis is reachable.
func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	password := env.GetEnv("CACHE_PASSWORD", "")
	var lastErr error
	for _, addr := range testRedisAddrs() {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
		if err := pingRedis(client, time.Second); err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		reset := func() {
			if err := client.Del(context.Background(), WakeupKey, counter.QueueCountersKey).Err(); err != nil {
				t.Fatalf("failed to cleanup redis keys: %v", err)
			}
		}
		reset()
		t.Cleanup(func() {
			reset()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
