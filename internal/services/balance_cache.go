package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// BalanceCache is a short-lived, display-only cache of balances. It is
// never consulted for authorization or sufficiency decisions; the
// ledger row is the source of truth. Every mutation invalidates it.
type BalanceCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewBalanceCache(redisClient *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{redis: redisClient, ttl: ttl}
}

func (c *BalanceCache) key(accountID string) string {
	return fmt.Sprintf("credits:balance:%s", accountID)
}

// Get returns the cached balance and whether it was present. A nil
// redis client always misses.
func (c *BalanceCache) Get(ctx context.Context, accountID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	val, err := c.redis.Get(ctx, c.key(accountID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

func (c *BalanceCache) Set(ctx context.Context, accountID string, balance int64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(accountID), balance, c.ttl).Err(); err != nil {
		log.Printf("[CACHE] Failed to cache balance for %s: %v", accountID, err)
	}
}

// Invalidate drops the cached balance after a mutation so the next
// read refetches from the ledger.
func (c *BalanceCache) Invalidate(ctx context.Context, accountID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, c.key(accountID)).Err(); err != nil {
		log.Printf("[CACHE] Failed to invalidate balance for %s: %v", accountID, err)
	}
}
