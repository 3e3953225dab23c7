package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
	"github.com/pvpedge/verifier/internal/metrics"
)

// Source yields order lines added after the given watermark.
type Source interface {
	FetchSince(ctx context.Context, lastID int64) ([]entity.ExpectedRecord, error)
}

// Refresher polls the source on a fixed interval and publishes merged
// snapshots to the cache. A failed poll leaves the published snapshot
// untouched; the snapshot just keeps aging until a poll succeeds.
type Refresher struct {
	cache    *Cache
	source   Source
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	lastErr     error
	lastAttempt time.Time
}

func NewRefresher(cache *Cache, source Source, interval time.Duration, logger *zap.Logger) *Refresher {
	return &Refresher{cache: cache, source: source, interval: interval, logger: logger}
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.RefreshOnce(ctx); err != nil {
		r.logger.Warn("ledger.refresh.failed", zap.Error(err))
	}

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Warn("ledger.refresh.failed", zap.Error(err))
			}
		}
	}
}

// RefreshOnce fetches everything past the current watermark and publishes
// the merged snapshot. The merge is copy-on-write; cancellation mid-fetch
// cannot corrupt the published snapshot.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	prev := r.cache.Snapshot()

	recs, err := r.source.FetchSince(ctx, prev.Revision())
	r.mu.Lock()
	r.lastAttempt = start
	r.lastErr = err
	r.mu.Unlock()
	if err != nil {
		metrics.LedgerRefreshes.WithLabelValues("error").Inc()
		return err
	}

	next := prev.merge(recs, time.Now())
	r.cache.Publish(next)

	metrics.LedgerRefreshes.WithLabelValues("ok").Inc()
	metrics.LedgerRefreshDuration.Observe(time.Since(start).Seconds())
	metrics.LedgerRecords.Set(float64(next.Len()))

	if len(recs) > 0 {
		r.logger.Info("ledger.refresh.ok",
			zap.Int("new_records", len(recs)),
			zap.Int("total_records", next.Len()),
			zap.Int64("revision", next.Revision()),
		)
	} else {
		r.logger.Debug("ledger.refresh.ok",
			zap.Int("total_records", next.Len()),
			zap.Int64("revision", next.Revision()),
		)
	}
	return nil
}

// LastError returns the most recent refresh failure, or nil after a
// successful refresh. Surfaced on the status endpoint.
func (r *Refresher) LastError() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAttempt, r.lastErr
}
