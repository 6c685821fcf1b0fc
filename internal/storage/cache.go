package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-discount-engine/internal/cache"
	"campaign-discount-engine/internal/engine"
)

// Loader loads every active campaign, ignoring activation windows.
type Loader interface {
	LoadActiveCampaigns(ctx context.Context) ([]engine.Campaign, error)
}

var errCacheCold = errors.New("campaign cache not loaded")

// Cache keeps the last loaded active set in memory and applies activation windows at read
// time, so a refresh is only needed when campaign data changes.
type Cache struct {
	snap   cache.Snapshot[[]engine.Campaign]
	loader Loader
}

func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader}
}

// Age reports how long ago the snapshot was last loaded. ok is false while the cache is cold.
func (c *Cache) Age(now time.Time) (time.Duration, bool) {
	return c.snap.Age(now)
}

func (c *Cache) UpdateCampaigns(campaigns []engine.Campaign) {
	c.snap.Store(append([]engine.Campaign(nil), campaigns...))
}

// Refresh reloads the snapshot. The previous snapshot is kept on error.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.loader == nil {
		return errCacheCold
	}
	cs, err := c.loader.LoadActiveCampaigns(ctx)
	if err != nil {
		return err
	}
	c.UpdateCampaigns(cs)
	log.Debug().Int("campaigns", len(cs)).Msg("campaign snapshot refreshed")
	return nil
}

// ActiveCampaigns serves the snapshot filtered to campaigns live at now, in snapshot order.
// A cold cache loads once before serving.
func (c *Cache) ActiveCampaigns(ctx context.Context, now time.Time) ([]engine.Campaign, error) {
	cs, ok := c.snap.Load()
	if !ok {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		cs, _ = c.snap.Load()
	}
	out := make([]engine.Campaign, 0, len(cs))
	for _, cp := range cs {
		if cp.LiveAt(now) {
			out = append(out, cp)
		}
	}
	return out, nil
}

// StartRefresher reloads the snapshot every interval until ctx is done.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.Refresh(ctx); err != nil {
					log.Error().Err(err).Msg("periodic campaign refresh")
				}
			}
		}
	}()
}
