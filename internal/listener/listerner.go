package listener

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-discount-engine/internal/observability"
	"campaign-discount-engine/internal/storage"
)

// Refresher reloads a campaign cache from the database.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ListenAndRefresh LISTENs on the campaign change channel and refreshes the cache on every
// notification, debouncing bursts. It returns when ctx is done.
func ListenAndRefresh(ctx context.Context, st *storage.Store, cache Refresher, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for {
		err := listen(ctx, st, cache, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listener disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, st *storage.Store, cache Refresher, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for campaign changes")

	// catch up on anything missed while disconnected
	refresh(ctx, cache, channel)

	db := debouncer{window: debounceWindow}
	db.fired(time.Now())
	for {
		waitCtx, cancel := ctx, context.CancelFunc(func() {})
		if d, ok := db.pending(time.Now()); ok {
			waitCtx, cancel = context.WithTimeout(ctx, d)
		}
		ntf, err := conn.Conn().WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				// trailing refresh for notifications swallowed by the debounce
				db.fired(time.Now())
				refresh(ctx, cache, channel)
				continue
			}
			return err
		}
		if db.notify(time.Now()) {
			refresh(ctx, cache, ntf.Channel)
		}
	}
}

const debounceWindow = 200 * time.Millisecond

// debouncer refreshes on the first notification of a burst and once more after the burst
// if anything arrived inside the window.
type debouncer struct {
	window  time.Duration
	last    time.Time
	waiting bool
}

// notify records a notification and reports whether to refresh right away.
func (d *debouncer) notify(now time.Time) bool {
	if now.Sub(d.last) < d.window {
		d.waiting = true
		return false
	}
	d.fired(now)
	return true
}

// pending reports how long until a deferred refresh is due.
func (d *debouncer) pending(now time.Time) (time.Duration, bool) {
	if !d.waiting {
		return 0, false
	}
	wait := d.window - now.Sub(d.last)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, true
}

func (d *debouncer) fired(now time.Time) {
	d.last = now
	d.waiting = false
}

func refresh(ctx context.Context, cache Refresher, channel string) {
	if err := cache.Refresh(ctx); err != nil {
		observability.SnapshotRefreshes.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("channel", channel).Msg("refresh campaign snapshot")
		return
	}
	observability.SnapshotRefreshes.WithLabelValues("ok").Inc()
	log.Info().Str("channel", channel).Msg("campaign change; snapshot refreshed")
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
