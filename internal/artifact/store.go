// Package artifact stores per-run files: the final design YAML and the rendered diagram.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

// Well-known artifact names.
const (
	DesignFile      = "design.yaml"
	DiagramFile     = "diagram.png"
	ExplanationFile = "explanation.md"
	CritiqueFile    = "critique.md"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidName is returned for empty run IDs or names that escape the run directory.
	ErrInvalidName = errors.New("invalid artifact name")
)

// Store saves and loads run artifacts.
type Store interface {
	Put(ctx context.Context, runID, name string, content []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
}

// ContentType guesses a MIME type from the artifact name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// objectKey validates runID and name and joins them as runID/name.
func objectKey(runID, name string) (string, error) {
	runID = strings.TrimSpace(runID)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("%w: run id %q", ErrInvalidName, runID)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return runID + "/" + clean, nil
}
