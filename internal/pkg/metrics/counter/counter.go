package counter

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// QueueCountersKey is the Redis hash holding cluster wide refresh queue totals.
// Prometheus counters are per process; this hash survives restarts and is
// shared by every worker.
const QueueCountersKey = "refresh_queue:counters"

const (
	FieldEnqueued  = "enqueued"
	FieldClaimed   = "claimed"
	FieldCompleted = "completed"
	FieldFailed    = "failed"
)

// Counters wraps a Redis client. A nil client turns every call into a no-op.
type Counters struct {
	client *redis.Client
	key    string
}

// New returns counters stored under QueueCountersKey.
func New(client *redis.Client) *Counters {
	return &Counters{client: client, key: QueueCountersKey}
}

// Add increments field by n.
func (c *Counters) Add(ctx context.Context, field string, n int64) error {
	if c == nil || c.client == nil || n == 0 {
		return nil
	}
	return c.client.HIncrBy(ctx, c.key, field, n).Err()
}

// All returns every counter in the hash.
func (c *Counters) All(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	if c == nil || c.client == nil {
		return out, nil
	}
	data, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	for field, raw := range data {
		v, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		out[field] = v
	}
	return out, nil
}

// Reset removes the hash.
func (c *Counters) Reset(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key).Err()
}
