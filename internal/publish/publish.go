// Package publish ships accepted designs to a local git archive or a GitHub repository.
package publish

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Design is an accepted run ready to publish.
type Design struct {
	RunID       string
	Requirement string
	Artifact    string
	Explanation string
	Critique    string
	Score       float64
	Image       []byte
	CreatedAt   time.Time
}

// Publisher publishes a design and returns where it landed (commit hash or URL).
type Publisher interface {
	Name() string
	Publish(ctx context.Context, d Design) (string, error)
}

// file is one path written per design.
type file struct {
	Path    string
	Content []byte
}

// files lays a design out under designs/.
func (d Design) files() ([]file, error) {
	id := strings.TrimSpace(d.RunID)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("invalid run id %q", d.RunID)
	}
	if strings.TrimSpace(d.Artifact) == "" {
		return nil, fmt.Errorf("design %s has no artifact", id)
	}
	base := path.Join("designs", id)
	out := []file{
		{Path: base + ".yaml", Content: []byte(d.Artifact)},
		{Path: base + ".md", Content: []byte(d.Markdown())},
	}
	if len(d.Image) > 0 {
		out = append(out, file{Path: base + ".png", Content: d.Image})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Markdown renders the human-readable summary stored next to the YAML.
func (d Design) Markdown() string {
	var b strings.Builder
	title := strings.TrimSpace(strings.SplitN(strings.TrimSpace(d.Requirement), "\n", 2)[0])
	if title == "" {
		title = d.RunID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Run: `%s`\n- Score: %.0f/100\n", d.RunID, d.Score)
	if !d.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Created: %s\n", d.CreatedAt.UTC().Format(time.RFC3339))
	}
	if req := strings.TrimSpace(d.Requirement); req != "" {
		fmt.Fprintf(&b, "\n## Requirement\n\n%s\n", req)
	}
	if exp := strings.TrimSpace(d.Explanation); exp != "" {
		fmt.Fprintf(&b, "\n## Architecture\n\n%s\n", exp)
	}
	if c := strings.TrimSpace(d.Critique); c != "" {
		fmt.Fprintf(&b, "\n## Review\n\n%s\n", c)
	}
	if len(d.Image) > 0 {
		fmt.Fprintf(&b, "\n![diagram](%s.png)\n", d.RunID)
	}
	return b.String()
}

func commitMessage(d Design) string {
	return fmt.Sprintf("Add design %s (score %.0f)", d.RunID, d.Score)
}
