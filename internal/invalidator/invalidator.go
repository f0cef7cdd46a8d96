// internal/invalidator/invalidator.go

// Package invalidator keeps the cache layers consistent with the object
// store, either by polling ETags on a fixed interval or by consuming
// bucket change notifications when a push channel is available.
package invalidator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/megfs/meg/internal/cache"
	"github.com/megfs/meg/internal/core"
	"github.com/megfs/meg/internal/metrics"
	"github.com/megfs/meg/internal/store"
)

const (
	// DefaultInterval is the poll period between cycles.
	DefaultInterval = 150 * time.Second
	// MinInterval is the floor a configured interval is clamped to.
	MinInterval = 60 * time.Second
	// CycleTimeout bounds one poll cycle.
	CycleTimeout = 6 * time.Second
)

// Change classifies a bucket notification.
type Change string

const (
	ChangeCreate Change = "create"
	ChangeModify Change = "modify"
	ChangeDelete Change = "delete"
)

// BucketNotification reports one object change pushed by the bucket.
type BucketNotification struct {
	Change Change
	Path   string
	ETag   string
}

// KeyResolver maps a request archive name onto its stored object key.
// The planner provides this so both sides share one resolution and one
// HEAD cache.
type KeyResolver interface {
	ResolveKey(ctx context.Context, archive string) (cache.HeadEntry, error)
}

// Invalidator purges or refreshes cache entries when the underlying
// objects change.
type Invalidator struct {
	store    store.ObjectStore
	caches   *cache.Layers
	resolver KeyResolver
	interval time.Duration
	metrics  *metrics.Registry
	logger   *zap.Logger
}

// New creates an invalidator. A zero interval uses the default; values
// below the minimum are clamped up.
func New(st store.ObjectStore, caches *cache.Layers, resolver KeyResolver, interval time.Duration, m *metrics.Registry, logger *zap.Logger) *Invalidator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Invalidator{
		store:    st,
		caches:   caches,
		resolver: resolver,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled. With a notification channel it
// listens for pushed changes; without one it polls ETags periodically.
func (iv *Invalidator) Run(ctx context.Context, notifications <-chan BucketNotification) {
	if notifications != nil {
		iv.listen(ctx, notifications)
		return
	}

	ticker := time.NewTicker(iv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			iv.Cycle(ctx)
		}
	}
}

// Cycle runs one poll iteration, bounded by CycleTimeout.
func (iv *Invalidator) Cycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, CycleTimeout)
	defer cancel()

	start := time.Now()
	outcome := "checked"

	etags := iv.caches.ETags()
	if len(etags) == 0 {
		iv.seed(ctx)
		iv.metrics.RecordInvalidatorCycle("seeded", time.Since(start).Seconds())
		return
	}

	checked := 0
	for archive, etag := range etags {
		if ctx.Err() != nil {
			iv.logger.Warn("poll cycle exceeded its timeout",
				zap.Int("remaining", len(etags)-checked))
			outcome = "timeout"
			break
		}
		iv.check(ctx, archive, etag)
		checked++
	}

	iv.metrics.RecordInvalidatorCycle(outcome, time.Since(start).Seconds())
}

// seed populates the ETag map from the archives already held in the
// body cache. Resolution itself records each ETag.
func (iv *Invalidator) seed(ctx context.Context) {
	for _, archive := range iv.caches.BodyArchives() {
		if ctx.Err() != nil {
			return
		}
		if _, err := iv.resolver.ResolveKey(ctx, archive); err != nil {
			iv.logger.Warn("seeding etag failed",
				zap.String("archive", archive), zap.Error(err))
		}
	}
}

// check issues a conditional GET for one archive and reconciles the
// caches with the answer.
func (iv *Invalidator) check(ctx context.Context, archive, etag string) {
	head, err := iv.resolver.ResolveKey(ctx, archive)
	if err != nil {
		if errors.Is(err, core.ErrArchiveNotFound) {
			iv.purgeGone(archive)
			return
		}
		iv.logger.Warn("resolving archive failed",
			zap.String("archive", archive), zap.Error(err))
		return
	}

	res, err := iv.conditionalGet(ctx, head.Key, etag)
	if err != nil {
		if errors.Is(err, core.ErrArchiveNotFound) {
			iv.purgeGone(archive)
			return
		}
		iv.logger.Warn("conditional get failed",
			zap.String("archive", archive), zap.Error(err))
		return
	}
	if res.NotModified {
		return
	}

	iv.logger.Info("archive changed",
		zap.String("archive", archive),
		zap.String("old_etag", etag),
		zap.String("new_etag", res.ETag))

	iv.caches.PurgeIndex(archive)
	if _, hadBody := iv.caches.Body(archive); hadBody {
		iv.caches.SetBody(archive, cache.Body{
			Data:            res.Body,
			ContentType:     res.ContentType,
			ContentEncoding: res.ContentEncoding,
			ETag:            res.ETag,
		}, cache.DefaultBodyTTL)
	} else {
		iv.caches.PurgeBody(archive)
	}
	if res.ETag != "" {
		iv.caches.SetETag(archive, res.ETag)
	}
	iv.metrics.RecordPurge("poll")
}

// conditionalGet retries once on a transport failure.
func (iv *Invalidator) conditionalGet(ctx context.Context, key, etag string) (store.GetResult, error) {
	res, err := iv.store.Get(ctx, key, store.GetOptions{IfNoneMatch: etag})
	if err != nil && errors.Is(err, core.ErrTransport) && ctx.Err() == nil {
		res, err = iv.store.Get(ctx, key, store.GetOptions{IfNoneMatch: etag})
	}
	return res, err
}

// purgeGone drops every trace of an archive that no longer exists.
func (iv *Invalidator) purgeGone(archive string) {
	iv.logger.Info("archive removed from store", zap.String("archive", archive))
	iv.caches.Purge(archive)
	iv.caches.DeleteETag(archive)
	iv.metrics.RecordPurge("poll")
}

// listen consumes pushed notifications until the channel closes or ctx
// is cancelled.
func (iv *Invalidator) listen(ctx context.Context, notifications <-chan BucketNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			iv.Apply(n)
		}
	}
}

// Apply reconciles the caches with one notification.
func (iv *Invalidator) Apply(n BucketNotification) {
	switch n.Change {
	case ChangeModify:
		iv.caches.PurgeBody(n.Path)
		iv.caches.PurgeIndex(n.Path)
		if n.ETag != "" {
			iv.caches.SetETag(n.Path, n.ETag)
		}
		iv.metrics.RecordPurge("push")
	case ChangeDelete:
		iv.caches.PurgeBody(n.Path)
		iv.caches.PurgeIndex(n.Path)
		iv.caches.DeleteETag(n.Path)
		iv.metrics.RecordPurge("push")
	case ChangeCreate:
		iv.logger.Debug("object created", zap.String("path", n.Path))
	default:
		iv.logger.Warn("unknown bucket change", zap.String("change", string(n.Change)))
	}
}
