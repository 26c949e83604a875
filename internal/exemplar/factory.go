package exemplar

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/archagent/internal/config"
	"go.uber.org/zap"
)

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.ExemplarsConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "chromem":
		s, err := NewChromemStore(ChromemConfig{Path: cfg.Path, Collection: cfg.Collection, Compress: true}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "qdrant":
		s, err := NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.Collection,
			VectorSize: uint64(cfg.VectorSize),
		}, embedder, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("exemplar: unknown backend %q", cfg.Backend)
	}
}

// Filtered only accepts exemplars at or above MinScore.
type Filtered struct {
	Store
	MinScore float64
}

// Add drops exemplars scored below MinScore.
func (f Filtered) Add(ctx context.Context, ex Exemplar) error {
	if ex.Score < f.MinScore {
		return nil
	}
	return f.Store.Add(ctx, ex)
}
