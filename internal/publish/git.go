package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitArchive commits designs into a local repository, creating it on first use.
type GitArchive struct {
	mu     sync.Mutex
	repo   *git.Repository
	root   string
	author object.Signature
}

var _ Publisher = (*GitArchive)(nil)

// NewGitArchive opens the repository at dir or initialises a new one.
func NewGitArchive(dir string) (*GitArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening git archive %s: %w", dir, err)
	}
	return &GitArchive{
		repo:   repo,
		root:   dir,
		author: object.Signature{Name: "archagent", Email: "archagent@localhost"},
	}, nil
}

func (g *GitArchive) Name() string { return "git" }

// Publish writes the design files and commits them. It returns the commit hash.
func (g *GitArchive) Publish(ctx context.Context, d Design) (string, error) {
	files, err := d.files()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	wt, err := g.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	for _, f := range files {
		full := filepath.Join(g.root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(full, f.Content, 0644); err != nil {
			return "", fmt.Errorf("writing %s: %w", f.Path, err)
		}
		if _, err := wt.Add(f.Path); err != nil {
			return "", fmt.Errorf("staging %s: %w", f.Path, err)
		}
	}

	sig := g.author
	sig.When = time.Now()
	hash, err := wt.Commit(commitMessage(d), &git.CommitOptions{Author: &sig, AllowEmptyCommits: false})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, herr := g.repo.Head()
		if herr != nil {
			return "", herr
		}
		return head.Hash().String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("committing design %s: %w", d.RunID, err)
	}
	return hash.String(), nil
}
