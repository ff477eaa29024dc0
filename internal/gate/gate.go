// Package gate guards the pipeline entrance: exactly-once admission per
// provider message id, and a per-sender rate ceiling.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix = "msg:"
	ratePrefix = "rate:"
)

// Gate implements the idempotency lock and fixed-window rate counter on
// Redis.
type Gate struct {
	rdb        *redis.Client
	lockTTL    time.Duration
	rateMax    int
	rateWindow time.Duration
}

func New(rdb *redis.Client, rateMax int, rateWindow time.Duration) *Gate {
	return &Gate{
		rdb:        rdb,
		lockTTL:    60 * time.Second,
		rateMax:    rateMax,
		rateWindow: rateWindow,
	}
}

// Acquire takes the processing lock for a message id. Returns false when
// the id was already seen (duplicate webhook delivery). A store error is
// returned as an error, never treated as "allowed".
func (g *Gate) Acquire(ctx context.Context, messageID string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, lockPrefix+messageID, "1", g.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire message lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock. Called on every exit path so a transient
// failure does not shadow the id for the full TTL.
func (g *Gate) Release(ctx context.Context, messageID string) error {
	if err := g.rdb.Del(ctx, lockPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("release message lock: %w", err)
	}
	return nil
}

// Allow counts one message against the sender's fixed window and reports
// whether it is within the ceiling. The first hit in a window sets the
// expiry; the counter resets when the window key lapses.
func (g *Gate) Allow(ctx context.Context, senderID string) (bool, error) {
	key := ratePrefix + senderID
	n, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate counter: %w", err)
	}
	if n == 1 {
		if err := g.rdb.Expire(ctx, key, g.rateWindow).Err(); err != nil {
			return false, fmt.Errorf("rate counter expire: %w", err)
		}
	}
	return n <= int64(g.rateMax), nil
}
