package artifact

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/archagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "run-1", DesignFile, []byte("Diagram: {}")))
	require.NoError(t, s.Put(ctx, "run-1", DiagramFile, []byte("png")))
	require.NoError(t, s.Put(ctx, "run-1", "history/cycle-1.yaml", []byte("v1")))
	require.NoError(t, s.Put(ctx, "run-2", DesignFile, []byte("other")))

	got, err := s.Get(ctx, "run-1", DesignFile)
	require.NoError(t, err)
	assert.Equal(t, []byte("Diagram: {}"), got)

	require.NoError(t, s.Put(ctx, "run-1", DesignFile, []byte("Diagram: {v: 2}")))
	got, err = s.Get(ctx, "run-1", DesignFile)
	require.NoError(t, err)
	assert.Equal(t, []byte("Diagram: {v: 2}"), got)

	names, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{DesignFile, DiagramFile, "history/cycle-1.yaml"}, names)

	names, err = s.List(ctx, "run-unknown")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Get(ctx, "run-1", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, bad := range [][2]string{{"", DesignFile}, {"run-1", ""}, {"run-1", "../run-2/design.yaml"}, {"../x", "a"}, {"a/b", "c"}} {
		assert.ErrorIs(t, s.Put(ctx, bad[0], bad[1], nil), ErrInvalidName, "%v", bad)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFilesystemStore(t *testing.T) {
	s, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.ErrorContains(t, err, "endpoint")
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "access key")
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	assert.ErrorContains(t, err, "bucket")

	s, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "designs"})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.region)
}

func TestNew(t *testing.T) {
	s, err := New(config.ArtifactsConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(config.ArtifactsConfig{Backend: "filesystem", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FilesystemStore{}, s)

	_, err = New(config.ArtifactsConfig{Backend: "gcs"})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/yaml", ContentType(DesignFile))
	assert.Equal(t, "image/png", ContentType(DiagramFile))
	assert.Equal(t, "text/markdown; charset=utf-8", ContentType(ExplanationFile))
	assert.Equal(t, "application/octet-stream", ContentType("blob"))
}
