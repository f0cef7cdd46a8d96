// internal/cache/layers.go
package cache

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/megfs/meg/internal/store"
)

// Cache TTLs per keyspace. Body TTL is a default; requests may override
// it with any value up to MaxBodyTTL.
const (
	DefaultBodyTTL = 30 * time.Minute
	MaxBodyTTL     = 48 * time.Hour
	IndexTTL       = time.Minute
	HeadTTL        = 10 * time.Second
)

// Keyspace prefixes. A remote provider sees these as opaque keys.
const (
	bodyPrefix  = "archives/"
	indexPrefix = "indexes/"
	headPrefix  = "heads/"
	etagPrefix  = "etags/"
)

// Body is a cached raw archive object.
type Body struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
	ETag            string
}

// IndexRegion is the cached tail region of a seekable archive, plus the
// total object length needed to decode it.
type IndexRegion struct {
	Data        []byte
	TotalLength int64
}

// HeadEntry pairs the resolved object key with its HEAD metadata.
type HeadEntry struct {
	Key  string
	Head store.HeadResult
}

// Layers multiplexes four keyspaces over one provider and coalesces
// concurrent fills per key. Purging a key forgets its in-flight fill so
// the next request starts fresh.
//
// Each key carries a generation counter bumped on every purge or direct
// set. A fill records the generation before fetching and commits only
// if it is unchanged, so a late-finishing fill cannot overwrite bytes
// the invalidator already refreshed or purged.
type Layers struct {
	provider Provider
	flight   singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// NewLayers wraps a provider.
func NewLayers(provider Provider) *Layers {
	return &Layers{provider: provider, gens: make(map[string]uint64)}
}

func (l *Layers) gen(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

func (l *Layers) bump(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[key]++
}

// commit stores value under key unless the key's generation moved while
// the fill ran.
func (l *Layers) commit(key string, gen uint64, value any, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gens[key] != gen {
		return
	}
	l.provider.Set(key, value, ttl)
}

// ClampBodyTTL maps a requested body TTL onto the allowed window:
// zero or negative falls back to the default, anything above the cap is
// clamped.
func ClampBodyTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultBodyTTL
	}
	if d > MaxBodyTTL {
		return MaxBodyTTL
	}
	return d
}

func (l *Layers) Body(archive string) (Body, bool) {
	v, ok := l.provider.Get(bodyPrefix + archive)
	if !ok {
		return Body{}, false
	}
	body, ok := v.(Body)
	return body, ok
}

// FillBody returns the cached body for archive, or runs fill once
// across all concurrent callers and caches the result with ttl.
func (l *Layers) FillBody(archive string, ttl time.Duration, fill func() (Body, error)) (Body, error) {
	key := bodyPrefix + archive
	v, err, _ := l.flight.Do(key, func() (any, error) {
		if v, ok := l.provider.Get(key); ok {
			return v, nil
		}
		gen := l.gen(key)
		body, err := fill()
		if err != nil {
			return nil, err
		}
		l.commit(key, gen, body, ttl)
		return body, nil
	})
	if err != nil {
		return Body{}, err
	}
	return v.(Body), nil
}

// SetBody stores a body directly. The invalidator uses this to refresh
// an entry in place after observing a new ETag. The write bumps the
// key's generation and drops any in-flight fill so a concurrent fetch
// that started against the old object cannot clobber the fresh bytes.
func (l *Layers) SetBody(archive string, body Body, ttl time.Duration) {
	key := bodyPrefix + archive
	l.bump(key)
	l.flight.Forget(key)
	l.provider.Set(key, body, ttl)
}

// BodyArchives lists the archive paths currently held in the body
// cache.
func (l *Layers) BodyArchives() []string {
	keys := l.provider.Keys(bodyPrefix)
	archives := make([]string, 0, len(keys))
	for _, k := range keys {
		archives = append(archives, strings.TrimPrefix(k, bodyPrefix))
	}
	return archives
}

func (l *Layers) Index(archive string) (IndexRegion, bool) {
	v, ok := l.provider.Get(indexPrefix + archive)
	if !ok {
		return IndexRegion{}, false
	}
	region, ok := v.(IndexRegion)
	return region, ok
}

// FillIndex returns the cached index region, or runs fill once and
// caches the result for IndexTTL.
func (l *Layers) FillIndex(archive string, fill func() (IndexRegion, error)) (IndexRegion, error) {
	key := indexPrefix + archive
	v, err, _ := l.flight.Do(key, func() (any, error) {
		if v, ok := l.provider.Get(key); ok {
			return v, nil
		}
		gen := l.gen(key)
		region, err := fill()
		if err != nil {
			return nil, err
		}
		l.commit(key, gen, region, IndexTTL)
		return region, nil
	})
	if err != nil {
		return IndexRegion{}, err
	}
	return v.(IndexRegion), nil
}

func (l *Layers) Head(archive string) (HeadEntry, bool) {
	v, ok := l.provider.Get(headPrefix + archive)
	if !ok {
		return HeadEntry{}, false
	}
	entry, ok := v.(HeadEntry)
	return entry, ok
}

// FillHead returns the cached key resolution, or runs fill once and
// caches the result for HeadTTL.
func (l *Layers) FillHead(archive string, fill func() (HeadEntry, error)) (HeadEntry, error) {
	key := headPrefix + archive
	v, err, _ := l.flight.Do(key, func() (any, error) {
		if v, ok := l.provider.Get(key); ok {
			return v, nil
		}
		gen := l.gen(key)
		entry, err := fill()
		if err != nil {
			return nil, err
		}
		l.commit(key, gen, entry, HeadTTL)
		return entry, nil
	})
	if err != nil {
		return HeadEntry{}, err
	}
	return v.(HeadEntry), nil
}

// ETag returns the last observed ETag for an archive. Entries have no
// TTL; the planner records them on key resolution and full fetches, and
// the invalidator rewrites or deletes them.
func (l *Layers) ETag(archive string) (string, bool) {
	v, ok := l.provider.Get(etagPrefix + archive)
	if !ok {
		return "", false
	}
	etag, ok := v.(string)
	return etag, ok
}

func (l *Layers) SetETag(archive, etag string) {
	l.provider.Set(etagPrefix+archive, etag, 0)
}

// ETags snapshots the ETag map.
func (l *Layers) ETags() map[string]string {
	keys := l.provider.Keys(etagPrefix)
	etags := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := l.provider.Get(k); ok {
			if etag, ok := v.(string); ok {
				etags[strings.TrimPrefix(k, etagPrefix)] = etag
			}
		}
	}
	return etags
}

func (l *Layers) DeleteETag(archive string) {
	l.provider.Delete(etagPrefix + archive)
}

// PurgeBody drops the cached body and its in-flight fill.
func (l *Layers) PurgeBody(archive string) {
	l.purgeKey(bodyPrefix + archive)
}

// PurgeIndex drops the cached index region and its in-flight fill.
func (l *Layers) PurgeIndex(archive string) {
	l.purgeKey(indexPrefix + archive)
}

// Purge drops every derived entry for an archive: body, index region,
// and key resolution. The ETag map is left to the invalidator.
func (l *Layers) Purge(archive string) {
	l.PurgeBody(archive)
	l.PurgeIndex(archive)
	l.purgeKey(headPrefix + archive)
}

func (l *Layers) purgeKey(key string) {
	l.bump(key)
	l.provider.Delete(key)
	l.flight.Forget(key)
}
