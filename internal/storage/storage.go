package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cfg "github.com/sealbox/sealbox/internal/config"
)

// ErrNotFound is returned by Get when no blob is stored under the key.
var ErrNotFound = errors.New("blob not found")

// Storage defines the interface for blob storage operations.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Put stores data under key, replacing any previous blob
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored key
	List(ctx context.Context) ([]string, error)
}

// New creates the storage backend selected by STORAGE_DRIVER.
func New(c *cfg.Config) (Storage, error) {
	switch c.StorageDriver {
	case "s3":
		slog.Info("initializing S3 storage",
			"bucket", c.S3Bucket,
			"region", c.S3Region,
			"endpoint", c.S3Endpoint,
		)
		return NewS3Storage(S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Endpoint:  c.S3Endpoint,
			PathStyle: c.S3PathStyle,
		})
	case "local":
		slog.Info("initializing local storage", "path", c.LocalStoragePath)
		return NewLocalStorage(c.LocalStoragePath)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", c.StorageDriver)
	}
}
