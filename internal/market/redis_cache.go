package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/arbot-io/arbot/internal/models"
)

// RedisCache mirrors top-of-book snapshots into Redis so dashboards and
// other processes can read prices without touching the engine. Keys are
// orderbook:{exchange}:{symbol} with a TTL equal to the staleness
// threshold, and every write publishes on prices:{exchange}:{symbol}.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisCache creates a mirror with the given key TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_cache").Logger(),
	}
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func bookKey(exchange, symbol string) string {
	return fmt.Sprintf("orderbook:%s:%s", exchange, symbol)
}

func priceChannel(exchange, symbol string) string {
	return fmt.Sprintf("prices:%s:%s", exchange, symbol)
}

// Mirror writes the book's top of book and publishes the update. The
// engine never depends on the mirror succeeding.
func (c *RedisCache) Mirror(ctx context.Context, book *models.OrderBook) error {
	top := book.Top()
	payload, err := json.Marshal(top)
	if err != nil {
		return fmt.Errorf("marshal top of book: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, bookKey(book.Exchange, book.Symbol), payload, c.ttl)
	pipe.Publish(ctx, priceChannel(book.Exchange, book.Symbol), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror %s %s: %w", book.Exchange, book.Symbol, err)
	}
	return nil
}

// GetTop reads a mirrored top of book. Returns nil without error when
// the key is missing or expired.
func (c *RedisCache) GetTop(ctx context.Context, exchange, symbol string) (*models.TopOfBook, error) {
	raw, err := c.client.Get(ctx, bookKey(exchange, symbol)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", exchange, symbol, err)
	}
	var top models.TopOfBook
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("unmarshal top of book: %w", err)
	}
	return &top, nil
}

// Run consumes books from the channel and mirrors them until ctx is
// canceled. Mirror failures are logged and throttled, never fatal.
func (c *RedisCache) Run(ctx context.Context, books <-chan *models.OrderBook) error {
	var lastErrLog time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case book, ok := <-books:
			if !ok {
				return nil
			}
			if err := c.Mirror(ctx, book); err != nil && time.Since(lastErrLog) > 10*time.Second {
				lastErrLog = time.Now()
				c.log.Warn().Err(err).Msg("Redis mirror failed")
			}
		}
	}
}
