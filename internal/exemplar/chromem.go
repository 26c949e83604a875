package exemplar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/archagent/internal/exemplar")

// ChromemConfig configures the embedded store. An empty Path keeps everything in memory.
type ChromemConfig struct {
	Path       string
	Collection string
	Compress   bool
}

// ChromemStore keeps exemplars in an embedded chromem database.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the collection.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("exemplar: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}
	return &ChromemStore{db: db, collection: col, logger: logger}, nil
}

// Add indexes an exemplar under its run ID. Re-adding a run replaces it.
func (s *ChromemStore) Add(ctx context.Context, ex Exemplar) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Add")
	defer span.End()

	if err := ex.validate(); err != nil {
		return err
	}
	doc := chromem.Document{
		ID:       ex.RunID,
		Content:  ex.Requirement,
		Metadata: toMetadata(ex),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		return fmt.Errorf("adding exemplar %s: %w", ex.RunID, err)
	}
	s.logger.Debug("exemplar indexed", zap.String("run.id", ex.RunID), zap.Float64("score", ex.Score))
	return nil
}

// Similar returns up to k exemplars ordered by similarity.
func (s *ChromemStore) Similar(ctx context.Context, requirement string, k int) ([]Exemplar, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Similar")
	defer span.End()

	// chromem requires nResults <= document count.
	count := s.collection.Count()
	if k <= 0 || count == 0 || strings.TrimSpace(requirement) == "" {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, requirement, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying exemplars: %w", err)
	}

	out := make([]Exemplar, 0, len(results))
	for _, r := range results {
		out = append(out, fromMetadata(r.Content, r.Metadata, r.Similarity))
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Count returns the number of stored exemplars.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

// Close is a no-op; persistent databases write through on every add.
func (s *ChromemStore) Close() error { return nil }

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", p, err)
		}
		p = filepath.Join(home, p[2:])
	}
	return filepath.Clean(p), nil
}
