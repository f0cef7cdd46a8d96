// internal/store/store.go

// Package store abstracts the S3-compatible object store behind the
// small call surface the planner and invalidator need.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/megfs/meg/internal/core"
)

// HeadResult is the metadata of an object.
type HeadResult struct {
	ContentType   string
	ContentLength int64
	AcceptRanges  bool
	ETag          string
}

// ObjectInfo identifies an object returned by List.
type ObjectInfo struct {
	Key  string
	Size int64
}

// GetOptions restricts a Get to a byte range and/or makes it conditional
// on an ETag.
type GetOptions struct {
	Range       *core.ByteRange
	IfNoneMatch string
}

// GetResult is the outcome of a Get. NotModified is set on a
// 304-equivalent response; Body is nil in that case.
type GetResult struct {
	Body            []byte
	ContentType     string
	ContentLength   int64
	ContentEncoding string
	ETag            string
	NotModified     bool
}

// ObjectStore is the contract the rest of the system depends on.
// Credentials are opaque to callers.
type ObjectStore interface {
	Head(ctx context.Context, key string) (HeadResult, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string, opts GetOptions) (GetResult, error)
}

// ParseBucketURL extracts a bucket name from the URL forms the CLI
// accepts: s3://B/..., https://B.s3.amazonaws.com/...,
// https://s3.amazonaws.com/B/....
func ParseBucketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", core.WrapError(core.ErrConfigInvalid, err)
	}

	switch {
	case u.Scheme == "s3":
		if u.Host == "" {
			return "", core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("s3 URL %q has no bucket", raw))
		}
		return u.Host, nil

	case strings.HasSuffix(u.Host, ".s3.amazonaws.com"):
		bucket := strings.TrimSuffix(u.Host, ".s3.amazonaws.com")
		if bucket == "" {
			return "", core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("virtual-hosted URL %q has no bucket", raw))
		}
		return bucket, nil

	case u.Host == "s3.amazonaws.com":
		bucket := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
		if bucket == "" {
			return "", core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("path-style URL %q has no bucket", raw))
		}
		return bucket, nil
	}

	return "", core.WrapError(core.ErrConfigInvalid,
		fmt.Errorf("cannot extract a bucket from %q", raw))
}
