package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-snapshot-service/internal/cache"
	"github.com/kjstillabower/weather-snapshot-service/internal/client"
	"github.com/kjstillabower/weather-snapshot-service/internal/observability"
)

// Refresher polls the upstream on a fixed interval and records each outcome in the Store.
type Refresher struct {
	fetcher  client.Fetcher
	store    *cache.Store
	mirror   cache.Mirror // optional
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewRefresher creates a Refresher. mirror may be nil.
func NewRefresher(fetcher client.Fetcher, store *cache.Store, mirror cache.Mirror, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		fetcher:  fetcher,
		store:    store,
		mirror:   mirror,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes refresh cycles until ctx is done. Cancellation during a fetch or the
// interval wait is the normal exit path and returns nil.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		if !r.RunOnce(ctx) {
			r.logger.Debug("refresh loop stopped")
			return nil
		}

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Debug("refresh loop stopped")
			return nil
		case <-timer.C:
			r.logger.Debug("woke after interval, fetching again", zap.Duration("interval", r.interval))
		}
	}
}

// RunOnce performs a single fetch and cache write. It returns false without touching the
// Store when ctx was cancelled mid-fetch.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	result, err := r.fetcher.Fetch(ctx)
	if ctx.Err() != nil {
		return false
	}

	now := r.now().UTC()
	r.store.Record(result, err, now)

	snap := r.store.Snapshot()
	observability.RecordRefresh(err == nil, now, len(snap.Result))

	fields := []zap.Field{
		zap.Int("result_bytes", len(result)),
		zap.Time("timestamp", now),
	}
	if err != nil {
		r.logger.Warn("refresh cycle failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("refresh cycle complete", fields...)
	}

	if r.mirror != nil {
		if perr := r.mirror.Publish(ctx, snap); perr != nil {
			observability.MirrorErrorsTotal.Inc()
			r.logger.Warn("snapshot mirror publish failed", zap.Error(perr))
		}
	}
	return true
}
