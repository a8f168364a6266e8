package blob

import (
	"circlereports/internal/config"
	"circlereports/internal/infra/blob/fs"
	"circlereports/internal/infra/blob/memory"
	"circlereports/internal/infra/blob/s3"
	"context"
	"fmt"
)

// Open selects a Store implementation from cfg. An empty driver means fs.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.Root)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
