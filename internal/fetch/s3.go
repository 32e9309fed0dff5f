package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type objectClient interface {
	GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
}

// S3 serves ranges from one object in an S3-compatible store.
type S3 struct {
	client objectClient
	bucket string
	key    string

	mu   sync.Mutex
	size int64
}

func NewS3(cfg S3Config, bucket, key string) (*S3, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("s3 object key is required")
	}
	client, err := newMinioObjectClient(cfg)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, bucket: bucket, key: key, size: -1}, nil
}

func NewS3WithClient(bucket, key string, client objectClient) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &S3{client: client, bucket: bucket, key: key, size: -1}, nil
}

func (s *S3) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	data, err := s.client.GetRange(ctx, s.bucket, s.key, offset, length)
	if err != nil {
		return nil, fmt.Errorf("get range s3://%s/%s: %w", s.bucket, s.key, err)
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("get range s3://%s/%s: got %d bytes, want %d", s.bucket, s.key, len(data), length)
	}
	return data, nil
}

func (s *S3) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size >= 0 {
		return s.size, nil
	}
	size, err := s.client.Stat(ctx, s.bucket, s.key)
	if err != nil {
		return 0, fmt.Errorf("stat s3://%s/%s: %w", s.bucket, s.key, err)
	}
	s.size = size
	return size, nil
}

func newMinioObjectClient(cfg S3Config) (*minioObjectClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioObjectClient{client: client}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioObjectClient struct {
	client *minio.Client
}

func (m *minioObjectClient) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, fmt.Errorf("set range: %w", err)
	}
	obj, err := m.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return data, nil
}

func (m *minioObjectClient) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, mapMinioErr(err)
	}
	return info.Size, nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrNotFound
		case "SlowDown", "InternalError", "ServiceUnavailable":
			return fmt.Errorf("%s: %w", response.Code, ErrTransient)
		}
	}
	return err
}
