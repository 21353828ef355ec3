// Package storage archives corpus exports on the local filesystem or S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// Storage stores archive objects by key.
type Storage interface {
	// Upload stores the object and returns its location
	Upload(ctx context.Context, key string, data io.Reader) (string, error)

	Download(ctx context.Context, key string) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error
}

// Storage backend types.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// New creates a storage backend based on configuration.
func New(ctx context.Context, cfg domain.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeLocal, "":
		p := cfg.LocalPath
		if p == "" {
			p = "./archive"
		}
		return NewLocalStorage(p)
	case TypeS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// ArchiveKey returns the object key of a corpus export taken at t.
func ArchiveKey(t time.Time) string {
	return path.Join("exports", t.UTC().Format("20060102T150405Z")+".csv")
}

// cleanKey rejects keys escaping the archive root.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("storage key is required")
	}
	return key, nil
}
