package blob

import (
	"context"
	"fmt"

	"github.com/Sergey-Bar-Alfred/rpgrt/internal/config"
)

// New selects a Store implementation by configuration type ("local" or
// "s3"), mirroring the reference adapter's storage-type switch.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.BasePath)
	default:
		return nil, fmt.Errorf("blob: unknown storage type %q", cfg.Type)
	}
}
