//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/importer"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

// Environment variable names for integration test configuration.
const (
	EnvMongoURI       = "INTEGRATION_MONGO_URI"
	EnvMongoDatabase  = "INTEGRATION_MONGO_DATABASE"
	EnvMinioEndpoint  = "INTEGRATION_MINIO_ENDPOINT"
	EnvMinioAccessKey = "INTEGRATION_MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "INTEGRATION_MINIO_SECRET_KEY" //nolint:gosec // env var name
)

// Default configuration values.
const (
	DefaultMongoURI      = "mongodb://localhost:27017"
	DefaultMongoDatabase = "items_integration"
	DefaultTimeout       = 10 * time.Second
	connectTimeout       = 3 * time.Second
)

// getEnvOrDefault returns the value of the environment variable
// identified by key, or defaultVal if the variable is not set.
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// testContext returns a context bounded by DefaultTimeout.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// collectionName derives a collection name unique to this test run.
func collectionName(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
}

// newMongoStore connects to the test MongoDB with a fresh collection, or
// skips the test when the server is unreachable. The collection is emptied
// when the test ends.
func newMongoStore(t *testing.T) *store.MongoStore {
	t.Helper()

	cfg := store.MongoConfig{
		URI:                    getEnvOrDefault(EnvMongoURI, DefaultMongoURI),
		Database:               getEnvOrDefault(EnvMongoDatabase, DefaultMongoDatabase),
		Collection:             collectionName(t),
		ServerSelectionTimeout: connectTimeout,
		ConnectTimeout:         connectTimeout,
		SocketTimeout:          DefaultTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	s, err := store.NewMongoStore(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Skipf("MongoDB unavailable at %s: %v", cfg.URI, err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if _, err := s.DeleteAll(ctx); err != nil {
			t.Logf("cleanup collection %s: %v", cfg.Collection, err)
		}
		if err := s.Close(ctx); err != nil {
			t.Logf("close store: %v", err)
		}
	})

	return s
}

// objectConfig returns the MinIO settings for the test, or skips when no
// endpoint is configured.
func objectConfig(t *testing.T) importer.ObjectConfig {
	t.Helper()

	endpoint := os.Getenv(EnvMinioEndpoint)
	if endpoint == "" {
		t.Skipf("%s not set", EnvMinioEndpoint)
	}

	return importer.ObjectConfig{
		Endpoint:  endpoint,
		AccessKey: getEnvOrDefault(EnvMinioAccessKey, "minioadmin"),
		SecretKey: getEnvOrDefault(EnvMinioSecretKey, "minioadmin"),
		Region:    "us-east-1",
	}
}

// putObject uploads content to a fresh bucket and returns its s3:// address.
func putObject(t *testing.T, cfg importer.ObjectConfig, key, content string) string {
	t.Helper()

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}

	ctx := testContext(t)
	bucket := "items-" + uuid.NewString()[:8]
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		t.Skipf("MinIO unavailable at %s: %v", cfg.Endpoint, err)
	}

	_, err = client.PutObject(ctx, bucket, key, strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("put object: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		_ = client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
		_ = client.RemoveBucket(ctx, bucket)
	})

	return "s3://" + bucket + "/" + key
}
