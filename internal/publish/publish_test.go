package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

func sampleDesign() Design {
	return Design{
		RunID:       "run-1",
		Requirement: "Static website\nwith a CDN",
		Artifact:    "Diagram:\n  Resources: {}\n",
		Explanation: "CloudFront in front of S3.",
		Critique:    "Solid. Score: 94",
		Score:       94,
	}
}

func TestDesign_Files(t *testing.T) {
	files, err := sampleDesign().files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "designs/run-1.md", files[0].Path)
	assert.Equal(t, "designs/run-1.yaml", files[1].Path)

	d := sampleDesign()
	d.Image = []byte{0x89, 'P', 'N', 'G'}
	files, err = d.files()
	require.NoError(t, err)
	assert.Len(t, files, 3)

	_, err = Design{RunID: "../x", Artifact: "a"}.files()
	assert.Error(t, err)
	_, err = Design{RunID: "ok"}.files()
	assert.Error(t, err)
}

func TestDesign_Markdown(t *testing.T) {
	md := sampleDesign().Markdown()
	assert.True(t, strings.HasPrefix(md, "# Static website\n"))
	assert.Contains(t, md, "- Score: 94/100")
	assert.Contains(t, md, "## Architecture\n\nCloudFront in front of S3.")
	assert.Contains(t, md, "## Review\n\nSolid. Score: 94")
	assert.NotContains(t, md, "![diagram]")
}

func TestGitArchive_Publish(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGitArchive(dir)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := g.Publish(ctx, sampleDesign())
	require.NoError(t, err)
	assert.Len(t, first, 40)

	// Same content again produces no new commit.
	again, err := g.Publish(ctx, sampleDesign())
	require.NoError(t, err)
	assert.Equal(t, first, again)

	d := sampleDesign()
	d.RunID = "run-2"
	second, err := g.Publish(ctx, d)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	content, err := os.ReadFile(filepath.Join(dir, "designs", "run-2.yaml"))
	require.NoError(t, err)
	assert.Equal(t, d.Artifact, string(content))

	// Reopening an existing archive works.
	reopened, err := NewGitArchive(dir)
	require.NoError(t, err)

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	iter, err := repo.Log(&git.LogOptions{})
	require.NoError(t, err)
	var messages []string
	require.NoError(t, iter.ForEach(func(c *object.Commit) error {
		messages = append(messages, c.Message)
		return nil
	}))
	assert.Equal(t, []string{"Add design run-2 (score 94)", "Add design run-1 (score 94)"}, messages)
	assert.Equal(t, "git", reopened.Name())
}

type contentsAPI struct {
	mu       sync.Mutex
	existing map[string]string
	puts     map[string]map[string]any
}

func (a *contentsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/repos/acme/designs/contents/")
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		sha, ok := a.existing[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"type": "file", "path": p, "sha": sha})
	case http.MethodPut:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.puts[p] = body
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"path": p, "html_url": "https://github.com/acme/designs/blob/main/" + p},
			"commit":  map[string]any{"sha": "c0ffee"},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestPublisher(t *testing.T, api *contentsAPI) *GitHubPublisher {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return newGitHubPublisher(client, "acme", "designs", "")
}

func TestGitHubPublisher_CreateAndUpdate(t *testing.T) {
	api := &contentsAPI{
		existing: map[string]string{"designs/run-1.md": "oldsha"},
		puts:     map[string]map[string]any{},
	}
	p := newTestPublisher(t, api)

	got, err := p.Publish(context.Background(), sampleDesign())
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/designs/blob/main/designs/run-1.yaml", got)

	require.Len(t, api.puts, 2)
	yamlPut := api.puts["designs/run-1.yaml"]
	assert.Equal(t, "main", yamlPut["branch"])
	assert.Equal(t, "Add design run-1 (score 94)", yamlPut["message"])
	assert.Nil(t, yamlPut["sha"])
	decoded, err := base64.StdEncoding.DecodeString(yamlPut["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, sampleDesign().Artifact, string(decoded))

	assert.Equal(t, "oldsha", api.puts["designs/run-1.md"]["sha"])
}

func TestNewGitHubPublisher_Validation(t *testing.T) {
	ctx := context.Background()
	_, err := NewGitHubPublisher(ctx, config.PublishConfig{GitHubRepo: "acme/designs"}, nil)
	assert.ErrorContains(t, err, "token")

	_, err = NewGitHubPublisher(ctx, config.PublishConfig{GitHubRepo: "acme", GitHubToken: "t"}, nil)
	assert.ErrorContains(t, err, "owner/name")

	p, err := NewGitHubPublisher(ctx, config.PublishConfig{GitHubRepo: "acme/designs", GitHubToken: "t", GitHubBaseURL: "https://ghe.example.com/"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "main", p.branch)
	assert.Equal(t, "github", p.Name())
	assert.Contains(t, p.client.BaseURL.String(), "ghe.example.com/api/v3/")
}

func TestNew(t *testing.T) {
	pubs, err := New(context.Background(), config.PublishConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, pubs)

	pubs, err = New(context.Background(), config.PublishConfig{GitPath: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "git", pubs[0].Name())
}
