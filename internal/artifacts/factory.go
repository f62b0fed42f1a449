package artifacts

import (
	"context"
	"fmt"

	"github.com/hujiangang/funAI/internal/artifacts/local"
	s3backend "github.com/hujiangang/funAI/internal/artifacts/s3"
	"github.com/hujiangang/funAI/internal/config"
)

// NewFromConfig creates the configured artifact store, or nil when
// retention is disabled.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.ArtifactBackend {
	case "", "none":
		return nil, nil
	case "local":
		b, err := local.New(local.Config{RootPath: cfg.ArtifactLocalPath, CreateDirs: true})
		if err != nil {
			return nil, err
		}
		return NewStore(b), nil
	case "s3":
		b, err := s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, err
		}
		return NewStore(b), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.ArtifactBackend)
	}
}
