// internal/store/s3.go
package store

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/megfs/meg/internal/core"
)

// S3Config holds S3 connection configuration.
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Store implements ObjectStore for S3-compatible backends.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3 creates a new S3 store client.
func NewS3(cfg S3Config) (*S3Store, error) {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true // Required for MinIO and most S3-compatible services
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (HeadResult, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return HeadResult{}, translateS3Error(err)
	}

	res := HeadResult{
		ContentType:  aws.ToString(out.ContentType),
		AcceptRanges: strings.EqualFold(aws.ToString(out.AcceptRanges), "bytes"),
		ETag:         aws.ToString(out.ETag),
	}
	if out.ContentLength != nil {
		res.ContentLength = *out.ContentLength
	}
	return res, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			objects = append(objects, info)
		}
	}

	return objects, nil
}

func (s *S3Store) Get(ctx context.Context, key string, opts GetOptions) (GetResult, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if opts.Range != nil {
		input.Range = aws.String(opts.Range.String())
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotModified(err) {
			return GetResult{NotModified: true}, nil
		}
		return GetResult{}, translateS3Error(err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return GetResult{}, translateS3Error(err)
	}

	res := GetResult{
		Body:            body,
		ContentType:     aws.ToString(out.ContentType),
		ContentEncoding: aws.ToString(out.ContentEncoding),
		ETag:            aws.ToString(out.ETag),
	}
	if out.ContentLength != nil {
		res.ContentLength = *out.ContentLength
	} else {
		res.ContentLength = int64(len(body))
	}
	return res, nil
}

func wrapNotFound(err error) error {
	return core.WrapError(core.ErrArchiveNotFound, err)
}

func wrapTransport(err error) error {
	return core.WrapError(core.ErrTransport, err)
}

// translateS3Error maps AWS API errors onto the store error taxonomy.
func translateS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return wrapNotFound(err)
		}
	}
	if strings.Contains(err.Error(), "404") {
		return wrapNotFound(err)
	}
	return wrapTransport(err)
}

func isNotModified(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotModified" {
		return true
	}
	return strings.Contains(err.Error(), "304")
}
