package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectScheme = "s3://"

// Source provides the CSV bytes for an import run.
type Source interface {
	// Open returns a reader positioned at the start of the CSV data.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Name identifies the source in reports and logs.
	Name() string
}

// FileSource reads a local CSV file.
type FileSource struct {
	Path string
}

// Name returns the file path.
func (s FileSource) Name() string {
	return s.Path
}

// Open checks that the path is a regular .csv file and opens it.
func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.Path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", s.Path)
	}
	if !strings.EqualFold(filepath.Ext(s.Path), ".csv") {
		return nil, fmt.Errorf("%s does not have a .csv extension", s.Path)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	return f, nil
}

// ObjectConfig holds the object storage connection settings.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// ObjectSource reads a CSV object from MinIO or another S3 compatible store.
type ObjectSource struct {
	client *minio.Client
	Bucket string
	Key    string
}

// NewObjectSource creates an ObjectSource for bucket/key.
func NewObjectSource(cfg ObjectConfig, bucket, key string) (*ObjectSource, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is not configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	return &ObjectSource{client: client, Bucket: bucket, Key: key}, nil
}

// Name returns the s3:// address of the object.
func (s *ObjectSource) Name() string {
	return objectScheme + s.Bucket + "/" + s.Key
}

// Open stats the object and returns a reader over its content.
func (s *ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.Bucket, s.Key, minio.StatObjectOptions{}); err != nil {
		return nil, fmt.Errorf("stat object %s: %w", s.Name(), err)
	}

	obj, err := s.client.GetObject(ctx, s.Bucket, s.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", s.Name(), err)
	}
	return obj, nil
}

// ParseSource returns an ObjectSource for s3://bucket/key addresses and a
// FileSource for anything else.
func ParseSource(raw string, cfg ObjectConfig) (Source, error) {
	if raw == "" {
		return nil, fmt.Errorf("source must not be empty")
	}

	if !strings.HasPrefix(raw, objectScheme) {
		return FileSource{Path: raw}, nil
	}

	bucket, key, ok := strings.Cut(strings.TrimPrefix(raw, objectScheme), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("object source %q must look like s3://bucket/key", raw)
	}

	return NewObjectSource(cfg, bucket, key)
}
