package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxObjectBytes caps any upload the worker will pull into memory for decoding.
const MaxObjectBytes = 64 << 20

var ErrObjectTooLarge = errors.New("object exceeds size limit")

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Client wraps a MinIO/S3 bucket holding mockup templates, design uploads and
// job outputs.
type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{minio: mc, bucket: bucket}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first start. A concurrent creator
// winning the race is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		if exists, checkErr := c.minio.BucketExists(ctx, c.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (c *Client) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedGetObject(ctx, c.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, found, err := c.stat(ctx, objectKey)
	return found, err
}

// ReadObject returns the object body. Objects above MaxObjectBytes are
// rejected from their metadata before any bytes are downloaded; the
// LimitReader covers objects replaced between stat and get.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	info, found, err := c.stat(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("read object %s: not found", objectKey)
	}
	if info.Size > MaxObjectBytes {
		return nil, fmt.Errorf("read object %s (%d bytes): %w", objectKey, info.Size, ErrObjectTooLarge)
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, MaxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	if len(data) > MaxObjectBytes {
		return nil, fmt.Errorf("read object %s: %w", objectKey, ErrObjectTooLarge)
	}
	return data, nil
}

// WriteObject stores a worker output. Uploads arrive through presigned URLs,
// so everything written here lives under a job-scoped key and never changes.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "private, max-age=31536000, immutable",
	}
	if _, err := c.minio.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func (c *Client) stat(ctx context.Context, objectKey string) (minio.ObjectInfo, bool, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return info, true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return minio.ObjectInfo{}, false, nil
	}
	return minio.ObjectInfo{}, false, fmt.Errorf("stat object %s: %w", objectKey, err)
}
