package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// Cached memoises render results by artifact hash. Invocation errors are not cached.
type Cached struct {
	inner orchestrator.Renderer
	cache *lru.Cache[string, *orchestrator.RenderResult]
}

var _ orchestrator.Renderer = (*Cached)(nil)

// NewCached wraps inner with an LRU of size entries.
func NewCached(inner orchestrator.Renderer, size int) (*Cached, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[string, *orchestrator.RenderResult](size)
	if err != nil {
		return nil, fmt.Errorf("creating render cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

func (c *Cached) Render(ctx context.Context, artifact string) (*orchestrator.RenderResult, error) {
	key := hashArtifact(artifact)
	if res, ok := c.cache.Get(key); ok {
		return cloneResult(res), nil
	}
	res, err := c.inner.Render(ctx, artifact)
	if err != nil || res == nil {
		return res, err
	}
	c.cache.Add(key, cloneResult(res))
	return res, nil
}

// Len returns the number of cached results.
func (c *Cached) Len() int { return c.cache.Len() }

func hashArtifact(artifact string) string {
	sum := sha256.Sum256([]byte(artifact))
	return hex.EncodeToString(sum[:])
}

func cloneResult(r *orchestrator.RenderResult) *orchestrator.RenderResult {
	out := &orchestrator.RenderResult{Success: r.Success, Feedback: *r.Feedback.Clone()}
	if r.Image != nil {
		img := *r.Image
		img.Data = append([]byte(nil), r.Image.Data...)
		out.Image = &img
	}
	return out
}
