package blob

import (
	"context"
	"strings"

	"onebreath/internal/config"
	"onebreath/internal/infra/blob/fs"
	"onebreath/internal/infra/blob/gcs"
	memorystore "onebreath/internal/infra/blob/memory"
	infraS3 "onebreath/internal/infra/blob/s3"
	"onebreath/pkg/domain"
)

// Open selects a Store from configuration. The default driver is fs rooted
// at cfg.FSRoot.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot, cfg.Endpoint)
	case DriverMemory:
		return memorystore.New(), nil
	case DriverS3:
		return infraS3.New(ctx, infraS3.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
	case DriverGCS:
		return gcs.New(ctx, gcs.Config{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		})
	default:
		return nil, domain.Errorf(domain.KindInvalid, "open blob store", "unknown blob driver %q", cfg.Driver)
	}
}
