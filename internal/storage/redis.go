package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"campaign-discount-engine/internal/config"
	"campaign-discount-engine/internal/engine"
)

// RedisCache shares the active-campaign set across engine replicas for a short TTL.
// Redis failures fall through to the loader; they never fail an evaluation on their own.
type RedisCache struct {
	client *redis.Client
	loader Loader
	key    string
	ttl    time.Duration
}

func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	})
}

func NewRedisCache(client *redis.Client, loader Loader, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, loader: loader, key: prefix + ":active", ttl: ttl}
}

func (c *RedisCache) Key() string { return c.key }

// ActiveCampaigns reads the cached set, loading and caching it on a miss, and filters it to
// campaigns live at now.
func (c *RedisCache) ActiveCampaigns(ctx context.Context, now time.Time) ([]engine.Campaign, error) {
	cs, err := c.get(ctx)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", c.key).Msg("redis campaign cache read")
		}
		cs, err = c.load(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]engine.Campaign, 0, len(cs))
	for _, cp := range cs {
		if cp.LiveAt(now) {
			out = append(out, cp)
		}
	}
	return out, nil
}

// Refresh reloads from the loader and overwrites the cached entry.
func (c *RedisCache) Refresh(ctx context.Context) error {
	cs, err := c.loader.LoadActiveCampaigns(ctx)
	if err != nil {
		return err
	}
	return c.put(ctx, cs)
}

func (c *RedisCache) get(ctx context.Context) ([]engine.Campaign, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, err
	}
	var cs []engine.Campaign
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("decode cached campaigns: %w", err)
	}
	return cs, nil
}

func (c *RedisCache) load(ctx context.Context) ([]engine.Campaign, error) {
	cs, err := c.loader.LoadActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, cs); err != nil {
		log.Warn().Err(err).Str("key", c.key).Msg("redis campaign cache write")
	}
	return cs, nil
}

func (c *RedisCache) put(ctx context.Context, cs []engine.Campaign) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode campaigns: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}
