package exemplar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// QdrantConfig configures the gRPC Qdrant backend.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	Collection     string
	VectorSize     uint64
	MaxMessageSize int
}

// QdrantStore keeps exemplars in a Qdrant collection.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	cfg      QdrantConfig
	logger   *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// exemplarNamespace derives stable point IDs from run IDs.
var exemplarNamespace = uuid.MustParse("6f1c1f5e-2c1b-4c55-9a53-4e0f3cbb7a11")

// NewQdrantStore connects, health checks and creates the collection if missing.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("exemplar: embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("exemplar: qdrant vector size is required")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 16 << 20
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{client: client, embedder: embedder, cfg: cfg, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	if err := s.ensureCollection(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// Add embeds the requirement and upserts the exemplar under a point ID derived from its run.
func (s *QdrantStore) Add(ctx context.Context, ex Exemplar) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Add")
	defer span.End()

	if err := ex.validate(); err != nil {
		return err
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, []string{ex.Requirement})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("embedding requirement: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedder returned %d vectors for 1 document", len(vecs))
	}

	payload := map[string]*qdrant.Value{
		"requirement": {Kind: &qdrant.Value_StringValue{StringValue: ex.Requirement}},
	}
	for k, v := range toMetadata(ex) {
		payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}

	wait := true
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID(ex.RunID)),
			Vectors: qdrant.NewVectors(vecs[0]...),
			Payload: payload,
		}},
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upserting exemplar %s: %w", ex.RunID, err)
	}
	return nil
}

// Similar embeds the requirement and returns the k nearest exemplars.
func (s *QdrantStore) Similar(ctx context.Context, requirement string, k int) ([]Exemplar, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Similar")
	defer span.End()

	if k <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, requirement)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying exemplars: %w", err)
	}

	out := make([]Exemplar, 0, len(points))
	for _, p := range points {
		md := make(map[string]string, len(p.Payload))
		for key, v := range p.Payload {
			md[key] = v.GetStringValue()
		}
		out = append(out, fromMetadata(md["requirement"], md, p.Score))
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Count is not tracked for the remote backend and returns -1.
func (s *QdrantStore) Count() int { return -1 }

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func pointID(runID string) string {
	if _, err := uuid.Parse(runID); err == nil {
		return runID
	}
	return uuid.NewSHA1(exemplarNamespace, []byte(runID)).String()
}
