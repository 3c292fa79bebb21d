package storage

import (
	"context"
	"fmt"
)

// New creates a Client for cfg.Backend.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Backend {
	case "minio", "":
		return NewMinIOClient(cfg)
	case "s3":
		return NewS3Client(ctx, cfg)
	case "local":
		return NewLocalClient(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
