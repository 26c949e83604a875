package artifact

import (
	"fmt"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

// New builds the store selected by cfg.Backend.
func New(cfg config.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "", "filesystem":
		s, err := NewFilesystemStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey.Value(),
			SecretKey: cfg.S3SecretKey.Value(),
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
