package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers one-time values (TOTP codes) for the span in which
// they would otherwise still be accepted.
type ReplayGuard struct {
	client *redis.Client
	prefix string
}

func NewReplayGuard(client *redis.Client, prefix string) *ReplayGuard {
	if prefix == "" {
		prefix = "replay"
	}
	return &ReplayGuard{client: client, prefix: prefix}
}

// Claim records key and reports whether this is its first use within ttl.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, fmt.Sprintf("%s:%s", g.prefix, key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay claim: %w", err)
	}
	return ok, nil
}
