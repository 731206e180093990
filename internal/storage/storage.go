// Package storage persists uploaded files and returns their public URLs.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/qs-lzh/open-event/config"
)

type Storage interface {
	// Put writes data at key, overwriting any previous object, and returns its URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New picks the backend named in cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.StorageS3:
		return NewS3Storage(ctx, cfg)
	case config.StorageLocal, "":
		return NewLocalStorage(cfg.LocalDir, cfg.LocalURL), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
