// Package storage wraps an S3 compatible bucket for optimized outputs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
}

// Object is one blob to upload. Metadata lands as x-amz-meta-* headers.
type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Client is bound to a single bucket.
type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage: endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: client for %s: %w", cfg.Endpoint, err)
	}
	return &Client{minio: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket when missing. Losing a creation race to
// another replica counts as success.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("storage: check bucket %s: %w", c.bucket, err)
	case exists:
		return nil
	}

	err = c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
		return nil
	}
	return fmt.Errorf("storage: create bucket %s: %w", c.bucket, err)
}

// Exists reports whether key is present. A missing key is not an error.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("storage: stat %s: %w", key, err)
}

func (c *Client) Put(ctx context.Context, obj Object) error {
	_, err := c.minio.PutObject(ctx, c.bucket, obj.Key,
		bytes.NewReader(obj.Data), int64(len(obj.Data)),
		minio.PutObjectOptions{
			ContentType:  obj.ContentType,
			CacheControl: obj.CacheControl,
			UserMetadata: obj.Metadata,
		})
	if err != nil {
		return fmt.Errorf("storage: put %s (%d bytes): %w", obj.Key, len(obj.Data), err)
	}
	return nil
}
