package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/renlav/payledger/internal/platform/payment"
	"github.com/renlav/payledger/pkg/logger"
)

const balanceKey = "payledger:balance"

// BalanceCache stores the last known spendable balance for display between
// ledger round trips. Values are picoMOB base-unit strings; no TTL, the
// processing engine overwrites it after every verification.
type BalanceCache struct {
	client *redis.Client
	logger *logger.Logger
}

var _ payment.BalanceCache = (*BalanceCache)(nil)

// NewBalanceCache creates a balance cache
func NewBalanceCache(client *redis.Client, log *logger.Logger) *BalanceCache {
	return &BalanceCache{
		client: client,
		logger: log.WithField("component", "balance_cache"),
	}
}

// Get returns the cached balance, reporting whether one was stored
func (c *BalanceCache) Get(ctx context.Context) (string, bool, error) {
	val, err := c.client.Get(ctx, balanceKey).Result()
	if err == redis.Nil {
		c.logger.Debug("balance cache miss")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached balance: %w", err)
	}
	return val, true, nil
}

// Set stores the balance
func (c *BalanceCache) Set(ctx context.Context, balance string) error {
	if err := c.client.Set(ctx, balanceKey, balance, 0).Err(); err != nil {
		return fmt.Errorf("failed to set cached balance: %w", err)
	}
	return nil
}

// Clear removes the cached balance
func (c *BalanceCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, balanceKey).Err()
}
