package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

// GitHubPublisher creates or updates design files through the contents API.
type GitHubPublisher struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	retry  *RetryConfig
	logger *zap.Logger
}

var _ Publisher = (*GitHubPublisher)(nil)

// NewGitHubPublisher authenticates with cfg.GitHubToken. GitHubBaseURL targets GitHub Enterprise.
func NewGitHubPublisher(ctx context.Context, cfg config.PublishConfig, logger *zap.Logger) (*GitHubPublisher, error) {
	if !cfg.GitHubToken.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	owner, repo, ok := strings.Cut(cfg.GitHubRepo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("github repo must be owner/name, got %q", cfg.GitHubRepo)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.GitHubBaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.GitHubBaseURL, cfg.GitHubBaseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}
	p := newGitHubPublisher(client, owner, repo, cfg.GitHubBranch)
	if logger != nil {
		p.logger = logger.Named("github")
	}
	return p, nil
}

func newGitHubPublisher(client *github.Client, owner, repo, branch string) *GitHubPublisher {
	if branch == "" {
		branch = "main"
	}
	return &GitHubPublisher{
		client: client,
		owner:  owner,
		repo:   repo,
		branch: branch,
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
}

func (p *GitHubPublisher) Name() string { return "github" }

// Publish writes each design file and returns the HTML URL of the YAML.
func (p *GitHubPublisher) Publish(ctx context.Context, d Design) (string, error) {
	files, err := d.files()
	if err != nil {
		return "", err
	}

	var yamlURL string
	for _, f := range files {
		sha, err := p.existingSHA(ctx, f.Path)
		if err != nil {
			return "", err
		}
		opts := &github.RepositoryContentFileOptions{
			Message: github.String(commitMessage(d)),
			Content: f.Content,
			Branch:  github.String(p.branch),
		}
		var res *github.RepositoryContentResponse
		if sha != "" {
			opts.SHA = github.String(sha)
		}
		_, err = withRetry(ctx, p.retry, p.logger, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			if sha == "" {
				res, resp, err = p.client.Repositories.CreateFile(ctx, p.owner, p.repo, f.Path, opts)
			} else {
				res, resp, err = p.client.Repositories.UpdateFile(ctx, p.owner, p.repo, f.Path, opts)
			}
			return resp, err
		})
		if err != nil {
			return "", fmt.Errorf("writing %s to %s/%s: %w", f.Path, p.owner, p.repo, err)
		}
		if strings.HasSuffix(f.Path, ".yaml") && res != nil && res.Content != nil {
			yamlURL = res.Content.GetHTMLURL()
		}
	}
	return yamlURL, nil
}

// existingSHA returns the blob SHA of path on the branch, or "" when it does not exist.
func (p *GitHubPublisher) existingSHA(ctx context.Context, path string) (string, error) {
	var content *github.RepositoryContent
	resp, err := withRetry(ctx, p.retry, p.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		content, _, resp, err = p.client.Repositories.GetContents(ctx, p.owner, p.repo, path,
			&github.RepositoryContentGetOptions{Ref: p.branch})
		return resp, err
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if (resp != nil && resp.StatusCode == http.StatusNotFound) ||
			(errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if content == nil {
		return "", nil
	}
	return content.GetSHA(), nil
}
