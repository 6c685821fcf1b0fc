package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-discount-engine/internal/api"
	"campaign-discount-engine/internal/config"
	"campaign-discount-engine/internal/engine"
	"campaign-discount-engine/internal/listener"
	"campaign-discount-engine/internal/observability"
	"campaign-discount-engine/internal/storage"
)

// sources is the campaign source chosen from config plus whatever must be torn down with it.
type sources struct {
	source  engine.CampaignSource
	store   *storage.Store
	cache   listener.Refresher
	cleanup func()
}

func buildSources(ctx context.Context, cfg config.Config) (sources, error) {
	if cfg.Fixtures.Path != "" {
		cs, err := storage.LoadFixtures(cfg.Fixtures.Path)
		if err != nil {
			return sources{}, err
		}
		log.Info().Str("path", cfg.Fixtures.Path).Int("campaigns", len(cs)).Msg("serving fixture campaigns")
		return sources{source: storage.NewStaticSource(cs), cleanup: func() {}}, nil
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return sources{}, err
	}
	s := sources{source: store, store: store, cleanup: store.Close}

	switch cfg.Cache.Backend {
	case config.CacheMemory:
		c := storage.NewCache(store)
		if err := c.Refresh(ctx); err != nil {
			// the cache loads lazily on first use
			log.Warn().Err(err).Msg("initial campaign snapshot")
		}
		s.source, s.cache = c, c
	case config.CacheRedis:
		client := storage.NewRedisClient(cfg)
		c := storage.NewRedisCache(client, store, cfg.Redis.Prefix, cfg.CacheTTL())
		s.source, s.cache = c, c
		s.cleanup = func() {
			_ = client.Close()
			store.Close()
		}
	case config.CacheNone:
	default:
		store.Close()
		return sources{}, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return s, nil
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	src, err := buildSources(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init campaign source")
	}
	defer src.cleanup()

	// Engine
	eng := engine.New(src.source, engine.Options{
		Precision:      &cfg.Engine.Precision,
		NearMissWindow: cfg.Engine.NearMissWindow,
	})

	// HTTP
	var db api.Pinger
	if src.store != nil {
		db = src.store
	}
	h := api.NewDiscountHandler(eng, db)
	r := api.Router(h)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY) and periodic refresh for the in-process cache
	if src.store != nil && src.cache != nil {
		go listener.ListenAndRefresh(rootCtx, src.store, src.cache, cfg.Listener.Channel, cfg.Backoff())
		if c, ok := src.cache.(*storage.Cache); ok {
			c.StartRefresher(rootCtx, cfg.RefreshInterval())
			if err := observability.RegisterSnapshotAge(func() (time.Duration, bool) { return c.Age(time.Now()) }); err != nil {
				log.Warn().Err(err).Msg("register snapshot age metric")
			}
		}
	}

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
