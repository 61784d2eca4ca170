package blob

import (
	"context"
	"fmt"

	"cureline/internal/infra/blob/fs"
	"cureline/internal/infra/blob/memory"
	"cureline/internal/infra/blob/s3"
	"cureline/internal/platform/config"
)

// Open builds the store selected by cfg. The "none" driver returns a nil
// Store and disables archiving.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch cfg.Driver {
	case config.BlobNone:
		return nil, nil
	case config.BlobFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case config.BlobS3:
		return NewS3(ctx, cfg.S3)
	case config.BlobMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewS3 returns a store for the configured bucket.
func NewS3(ctx context.Context, cfg config.S3) (Store, error) {
	store, err := s3.New(ctx, s3.Config{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		PathStyle:       cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-process store.
func NewMemory() Store { return memory.New() }
