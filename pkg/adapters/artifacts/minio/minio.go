package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/ports"
)

// defaultObjectName is used when a sink URI names a bucket or a prefix
const defaultObjectName = "output.jsonl"

// Config holds object store connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Validate checks the connection settings
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("minio credentials are required")
	}
	return nil
}

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Writer implements ports.ArtifactWriter on an S3 compatible object store.
// Records are written as JSON lines.
type Writer struct {
	store  objectStore
	region string
	logger *zap.Logger
}

var _ ports.ArtifactWriter = (*Writer)(nil)

// NewWriter connects to the object store described by cfg
func NewWriter(cfg Config, logger *zap.Logger) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Writer{store: client, region: cfg.Region, logger: logger}, nil
}

// ParseURI splits s3://bucket/key. An empty key or one ending in a slash gets
// the default object name appended.
func ParseURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid artifact uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid artifact uri %q: expected s3://bucket/key", uri)
	}

	object = strings.TrimPrefix(u.Path, "/")
	if object == "" || strings.HasSuffix(object, "/") {
		object += defaultObjectName
	}
	return u.Host, object, nil
}

// Write stores records at uri, creating the bucket when missing, and
// returns the written object's URI
func (w *Writer) Write(ctx context.Context, uri string, records []any) (string, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if err := w.ensureBucket(ctx, bucket); err != nil {
		return "", fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}

	info, err := w.store.PutObject(ctx, bucket, object, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	w.logger.Debug("artifact written",
		zap.String("bucket", bucket),
		zap.String("object", object),
		zap.Int64("size", info.Size),
		zap.Int("records", len(records)))

	return fmt.Sprintf("s3://%s/%s", bucket, object), nil
}

func (w *Writer) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := w.store.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return w.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: w.region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
