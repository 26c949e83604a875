package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

// New returns the publishers enabled in cfg. None configured is not an error.
func New(ctx context.Context, cfg config.PublishConfig, logger *zap.Logger) ([]Publisher, error) {
	var pubs []Publisher
	if cfg.GitPath != "" {
		g, err := NewGitArchive(expandHome(cfg.GitPath))
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, g)
	}
	if cfg.GitHubRepo != "" {
		gh, err := NewGitHubPublisher(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, gh)
	}
	return pubs, nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
