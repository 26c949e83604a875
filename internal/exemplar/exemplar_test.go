package exemplar

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bagOfWords embeds text as normalized word-hash counts so similar wording scores higher.
type bagOfWords struct{ dim int }

func (b bagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, b.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(b.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v, nil
}

func (b bagOfWords) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := b.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newMemoryStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Collection: "accepted_designs"}, bagOfWords{dim: 64}, nil)
	require.NoError(t, err)
	return s
}

func TestChromemStore_AddAndSimilar(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	got, err := s.Similar(ctx, "anything", 2)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Add(ctx, Exemplar{RunID: "r1", Requirement: "serverless api with lambda and dynamodb", Artifact: "Diagram: {a: 1}", Score: 93}))
	require.NoError(t, s.Add(ctx, Exemplar{RunID: "r2", Requirement: "data lake with glue athena and s3", Artifact: "Diagram: {b: 2}", Score: 95}))
	assert.Equal(t, 2, s.Count())

	got, err = s.Similar(ctx, "serverless lambda api backed by dynamodb", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, "Diagram: {a: 1}", got[0].Artifact)
	assert.Equal(t, 93.0, got[0].Score)
	assert.Equal(t, "serverless api with lambda and dynamodb", got[0].Requirement)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestChromemStore_ReAddReplaces(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	require.NoError(t, s.Add(ctx, Exemplar{RunID: "r1", Requirement: "web app", Artifact: "v1", Score: 90}))
	require.NoError(t, s.Add(ctx, Exemplar{RunID: "r1", Requirement: "web app", Artifact: "v2", Score: 96}))
	assert.Equal(t, 1, s.Count())

	got, err := s.Similar(ctx, "web app", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Artifact)
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "accepted_designs"}, bagOfWords{dim: 32}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, Exemplar{RunID: "r1", Requirement: "queue workers", Artifact: "yaml", Score: 91}))

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "accepted_designs"}, bagOfWords{dim: 32}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
}

func TestValidation(t *testing.T) {
	s := newMemoryStore(t)
	assert.ErrorIs(t, s.Add(context.Background(), Exemplar{RunID: "r1"}), ErrInvalidExemplar)

	_, err := NewChromemStore(ChromemConfig{Collection: "Bad-Name"}, bagOfWords{dim: 8}, nil)
	assert.Error(t, err)

	_, err = NewChromemStore(ChromemConfig{Collection: "ok"}, nil, nil)
	assert.Error(t, err)
}

func TestFiltered(t *testing.T) {
	ctx := context.Background()
	s := Filtered{Store: newMemoryStore(t), MinScore: 90}

	require.NoError(t, s.Add(ctx, Exemplar{RunID: "low", Requirement: "x", Artifact: "y", Score: 72}))
	require.NoError(t, s.Add(ctx, Exemplar{RunID: "high", Requirement: "x", Artifact: "y", Score: 90}))
	assert.Equal(t, 1, s.Count())
}

func TestPointID(t *testing.T) {
	id := "0b5b7f3e-0c83-4f7e-9d0e-6a4c0b6f1d22"
	assert.Equal(t, id, pointID(id))
	assert.Equal(t, pointID("run-1"), pointID("run-1"))
	assert.NotEqual(t, pointID("run-1"), pointID("run-2"))
}

func TestMetadataRoundTrip(t *testing.T) {
	ex := Exemplar{RunID: "r", Requirement: "req", Artifact: "a", Explanation: "e", Score: 91.5}
	got := fromMetadata("req", toMetadata(ex), 0.5)
	assert.Equal(t, ex.RunID, got.RunID)
	assert.Equal(t, ex.Artifact, got.Artifact)
	assert.Equal(t, ex.Explanation, got.Explanation)
	assert.Equal(t, 91.5, got.Score)
	assert.Equal(t, float32(0.5), got.Similarity)
}
