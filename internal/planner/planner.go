// internal/planner/planner.go

// Package planner turns a request for a path inside an archive into the
// cheapest sequence of object store calls the archive's format allows,
// consulting the cache layers at every step.
package planner

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/megfs/meg/internal/archivefs"
	"github.com/megfs/meg/internal/cache"
	"github.com/megfs/meg/internal/core"
	"github.com/megfs/meg/internal/format"
	"github.com/megfs/meg/internal/metrics"
	"github.com/megfs/meg/internal/mimetype"
	"github.com/megfs/meg/internal/store"
)

// Request names a path inside an archive object.
type Request struct {
	// Archive is the first URL segment, without an enforced extension.
	Archive string
	// InnerPath is the remaining segments joined by "/". Empty means
	// the archive object itself is requested.
	InnerPath string
	// BodyTTL overrides the archive body cache TTL for this request.
	// Zero uses the default; values above the cap are clamped.
	BodyTTL time.Duration
}

// Result is a fully resolved response body.
type Result struct {
	Body        []byte
	ContentType string
}

// Planner resolves requests against the store through the cache layers.
type Planner struct {
	store    store.ObjectStore
	caches   *cache.Layers
	registry *format.Registry
	mimes    mimetype.Resolver
	metrics  *metrics.Registry
	logger   *zap.Logger
}

// New creates a planner.
func New(st store.ObjectStore, caches *cache.Layers, registry *format.Registry, mimes mimetype.Resolver, m *metrics.Registry, logger *zap.Logger) *Planner {
	return &Planner{
		store:    st,
		caches:   caches,
		registry: registry,
		mimes:    mimes,
		metrics:  m,
		logger:   logger,
	}
}

// Serve resolves a request to its response body.
func (p *Planner) Serve(ctx context.Context, req Request) (Result, error) {
	if req.InnerPath == "" {
		return p.serveRaw(ctx, req)
	}
	return p.serveEntry(ctx, req)
}

// serveRaw delivers the archive object verbatim, without decoding.
func (p *Planner) serveRaw(ctx context.Context, req Request) (Result, error) {
	body, err := p.archiveBody(ctx, req)
	if err != nil {
		return Result{}, err
	}
	ct := body.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	p.metrics.RecordEntryServed("raw", len(body.Data))
	return Result{Body: body.Data, ContentType: ct}, nil
}

func (p *Planner) serveEntry(ctx context.Context, req Request) (Result, error) {
	// A cached body short-circuits every store call.
	if body, ok := p.caches.Body(req.Archive); ok {
		p.metrics.RecordCacheHit("archives")
		data, err := p.readFromBody(req.Archive, body, req.InnerPath)
		if err != nil {
			return Result{}, err
		}
		p.metrics.RecordEntryServed("cached", len(data))
		return p.respond(req.InnerPath, data), nil
	}
	p.metrics.RecordCacheMiss("archives")

	head, err := p.ResolveKey(ctx, req.Archive)
	if err != nil {
		return Result{}, err
	}

	f, err := p.resolveFormat(head)
	if err != nil {
		return Result{}, err
	}

	if sf, ok := format.Seekable(f); ok && head.Head.AcceptRanges {
		data, err := p.serveSeekable(ctx, req, head, sf)
		if err != nil {
			return Result{}, err
		}
		p.metrics.RecordEntryServed("seekable", len(data))
		return p.respond(req.InnerPath, data), nil
	}

	body, err := p.archiveBody(ctx, req)
	if err != nil {
		return Result{}, err
	}
	data, err := p.readFromBody(req.Archive, body, req.InnerPath)
	if err != nil {
		return Result{}, err
	}
	p.metrics.RecordEntryServed("whole", len(data))
	return p.respond(req.InnerPath, data), nil
}

// ResolveKey maps a request archive name onto the stored object key,
// caching the HEAD response and recording the object's ETag. The
// invalidator shares this resolution.
func (p *Planner) ResolveKey(ctx context.Context, archive string) (cache.HeadEntry, error) {
	if entry, ok := p.caches.Head(archive); ok {
		p.metrics.RecordCacheHit("heads")
		return entry, nil
	}
	p.metrics.RecordCacheMiss("heads")

	entry, err := p.caches.FillHead(archive, func() (cache.HeadEntry, error) {
		p.metrics.RecordStoreCall("list")
		objects, err := p.store.List(ctx, archive)
		if err != nil {
			return cache.HeadEntry{}, err
		}
		key := ""
		for _, obj := range objects {
			if path.Base(obj.Key) != "" && obj.Key[len(obj.Key)-1] != '/' {
				key = obj.Key
				break
			}
		}
		if key == "" {
			return cache.HeadEntry{}, core.WrapError(core.ErrArchiveNotFound,
				fmt.Errorf("no object under prefix %q", archive))
		}

		p.metrics.RecordStoreCall("head")
		head, err := p.store.Head(ctx, key)
		if err != nil {
			return cache.HeadEntry{}, err
		}
		if head.ETag != "" {
			p.caches.SetETag(archive, head.ETag)
		}
		return cache.HeadEntry{Key: key, Head: head}, nil
	})
	if err != nil {
		return cache.HeadEntry{}, err
	}
	return entry, nil
}

// resolveFormat picks the archive format from the HEAD content type,
// falling back to the stored key's name.
func (p *Planner) resolveFormat(head cache.HeadEntry) (format.ArchiveFormat, error) {
	if f, ok := p.registry.ByContentType(head.Head.ContentType); ok {
		return f, nil
	}
	if f, ok := p.registry.ByFilename(head.Key); ok {
		return f, nil
	}
	return nil, core.WrapError(core.ErrUnknownFormat,
		fmt.Errorf("no format for content type %q or key %q", head.Head.ContentType, head.Key))
}

// serveSeekable fetches one entry through the central index: a ranged
// GET for the index region, then a ranged GET for the entry itself.
func (p *Planner) serveSeekable(ctx context.Context, req Request, head cache.HeadEntry, sf format.SeekableArchiveFormat) ([]byte, error) {
	total := head.Head.ContentLength

	if _, ok := p.caches.Index(req.Archive); ok {
		p.metrics.RecordCacheHit("indexes")
	} else {
		p.metrics.RecordCacheMiss("indexes")
	}

	region, err := p.caches.FillIndex(req.Archive, func() (cache.IndexRegion, error) {
		var lastErr error
		for _, hint := range sf.IndexHintRanges(total) {
			r := hint
			p.metrics.RecordStoreCall("get_range")
			res, err := p.store.Get(ctx, head.Key, store.GetOptions{Range: &r})
			if err != nil {
				return cache.IndexRegion{}, err
			}
			if _, err := sf.DecodeIndex(res.Body, total); err != nil {
				lastErr = err
				continue
			}
			return cache.IndexRegion{Data: res.Body, TotalLength: total}, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no index hint ranges for %d bytes", total)
		}
		return cache.IndexRegion{}, core.WrapError(core.ErrDecode, lastErr)
	})
	if err != nil {
		return nil, err
	}

	index, err := sf.DecodeIndex(region.Data, region.TotalLength)
	if err != nil {
		return nil, err
	}
	if index.Len() == 0 {
		p.logger.Warn("archive has no entries", zap.String("archive", req.Archive))
	}

	inner := normalizeInner(req.InnerPath)
	meta, ok := index.Get(inner)
	if !ok {
		return nil, core.WrapError(core.ErrEntryNotFound,
			fmt.Errorf("%s in %s", inner, req.Archive))
	}

	entryRange := core.ByteRange{Start: meta.Offset, End: meta.Offset + meta.Length - 1}
	p.metrics.RecordStoreCall("get_range")
	res, err := p.store.Get(ctx, head.Key, store.GetOptions{Range: &entryRange})
	if err != nil {
		return nil, err
	}

	entry, err := sf.DecodeEntry(res.Body, inner, meta)
	if err != nil {
		return nil, err
	}
	p.warnIfTruncated(req.Archive, entry)
	return entry.Data, nil
}

// archiveBody returns the raw archive bytes, filling the body cache
// with a full GET on miss.
func (p *Planner) archiveBody(ctx context.Context, req Request) (cache.Body, error) {
	ttl := cache.ClampBodyTTL(req.BodyTTL)
	return p.caches.FillBody(req.Archive, ttl, func() (cache.Body, error) {
		head, err := p.ResolveKey(ctx, req.Archive)
		if err != nil {
			return cache.Body{}, err
		}
		p.metrics.RecordStoreCall("get")
		res, err := p.store.Get(ctx, head.Key, store.GetOptions{})
		if err != nil {
			return cache.Body{}, err
		}
		if res.ETag != "" {
			p.caches.SetETag(req.Archive, res.ETag)
		}
		return cache.Body{
			Data:            res.Body,
			ContentType:     res.ContentType,
			ContentEncoding: res.ContentEncoding,
			ETag:            res.ETag,
		}, nil
	})
}

// readFromBody decodes a cached body and reads one entry through the
// file-system view.
func (p *Planner) readFromBody(archive string, body cache.Body, innerPath string) ([]byte, error) {
	f, err := p.registry.Detect(body.Data, archive)
	if err != nil {
		return nil, err
	}
	decoded, err := f.Decode(body.Data)
	if err != nil {
		return nil, err
	}
	if len(decoded.Entries) == 0 {
		p.logger.Warn("archive has no entries", zap.String("archive", archive))
	}
	fs := archivefs.New(decoded)
	data, err := fs.Read(innerPath)
	if err != nil {
		return nil, err
	}
	if entry, ok := decoded.Entry(normalizeInner(innerPath)); ok {
		p.warnIfTruncated(archive, entry)
	}
	return data, nil
}

func (p *Planner) warnIfTruncated(archive string, entry *format.Entry) {
	size := entry.Metadata.UncompressedSize
	if len(entry.Data) == 0 && size != nil && *size > 0 {
		p.logger.Warn("entry body empty despite declared size",
			zap.String("archive", archive),
			zap.String("path", entry.Path),
			zap.Int64("declared_size", *size),
		)
	}
}

func (p *Planner) respond(innerPath string, data []byte) Result {
	return Result{
		Body:        data,
		ContentType: mimetype.Detect(p.mimes, innerPath, data),
	}
}

// normalizeInner maps request inner paths onto archive entry paths.
func normalizeInner(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return path.Clean(p)
}
