package rates

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]entity.ExchangeRate
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]entity.ExchangeRate{}}
}

func (c *MemoryCache) Get(_ context.Context, from, to, provider string, now time.Time) (*entity.ExchangeRate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[cacheKey(from, to, provider)]
	if !ok || item.Expired(now) {
		return nil, nil
	}
	return &item, nil
}

func (c *MemoryCache) Put(_ context.Context, item *entity.ExchangeRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[cacheKey(item.FromCurrency, item.ToCurrency, item.Provider)] = *item
	return nil
}

type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

type redisRate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Provider  string          `json:"provider"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, from, to, provider string, now time.Time) (*entity.ExchangeRate, error) {
	raw, err := c.client.Get(ctx, c.prefix+cacheKey(from, to, provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored redisRate
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	item := &entity.ExchangeRate{
		FromCurrency: stored.From,
		ToCurrency:   stored.To,
		Provider:     stored.Provider,
		Rate:         stored.Rate,
		FetchedAt:    stored.FetchedAt,
		ExpiresAt:    stored.ExpiresAt,
	}
	if item.Expired(now) {
		return nil, nil
	}
	return item, nil
}

func (c *RedisCache) Put(ctx context.Context, item *entity.ExchangeRate) error {
	ttl := time.Until(item.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(redisRate{
		From:      item.FromCurrency,
		To:        item.ToCurrency,
		Provider:  item.Provider,
		Rate:      item.Rate,
		FetchedAt: item.FetchedAt,
		ExpiresAt: item.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+cacheKey(item.FromCurrency, item.ToCurrency, item.Provider), payload, ttl).Err()
}

func cacheKey(from, to, provider string) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to) + ":" + provider
}
