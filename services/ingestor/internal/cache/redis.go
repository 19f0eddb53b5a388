package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "latest"

// LatestPrice is the most recent tick of one symbol, as cached for readers
// that do not want to hit Postgres.
type LatestPrice struct {
	Exchange  string          `json:"exchange"`
	SymbolID  string          `json:"symbol_id"`
	SymbolRef uuid.UUID       `json:"symbol_ref"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"ts"`
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type PriceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg Config, logger *logrus.Logger) (*PriceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithField("addr", cfg.Addr).Info("Connected to Redis")
	return New(client, cfg.TTL, logger), nil
}

func New(client redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *PriceCache {
	return &PriceCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(exchange, symbolID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, strings.ToUpper(exchange), symbolID)
}

// SetLatest writes all prices in one pipeline. A stored price is only
// replaced by one that is at least as recent.
func (c *PriceCache) SetLatest(ctx context.Context, prices []LatestPrice) error {
	if len(prices) == 0 {
		return nil
	}

	keys := make([]string, len(prices))
	for i, p := range prices {
		keys[i] = key(p.Exchange, p.SymbolID)
	}
	current, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to read cached prices: %w", err)
	}

	pipe := c.client.Pipeline()
	written := 0
	for i, p := range prices {
		if prev, ok := decodeLatest(current[i]); ok && prev.Timestamp.After(p.Timestamp) {
			continue
		}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal price for %s: %w", p.SymbolID, err)
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
		written++
	}
	if written == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cached prices: %w", err)
	}

	c.logger.WithField("count", written).Debug("Cached latest prices")
	return nil
}

// GetLatest returns nil, nil on a cache miss.
func (c *PriceCache) GetLatest(ctx context.Context, exchange, symbolID string) (*LatestPrice, error) {
	data, err := c.client.Get(ctx, key(exchange, symbolID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached price: %w", err)
	}

	var price LatestPrice
	if err := json.Unmarshal(data, &price); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached price: %w", err)
	}
	return &price, nil
}

func (c *PriceCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PriceCache) Close() error {
	return c.client.Close()
}

func decodeLatest(v interface{}) (LatestPrice, bool) {
	s, ok := v.(string)
	if !ok {
		return LatestPrice{}, false
	}
	var p LatestPrice
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return LatestPrice{}, false
	}
	return p, true
}
