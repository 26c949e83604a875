// Package exemplar stores accepted designs and retrieves the ones closest to a new
// requirement so the generator can start from proven layouts.
package exemplar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidExemplar is returned for exemplars missing a run ID or artifact.
var ErrInvalidExemplar = errors.New("exemplar: run id and artifact are required")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Exemplar is an accepted design.
type Exemplar struct {
	RunID       string    `json:"run_id"`
	Requirement string    `json:"requirement"`
	Artifact    string    `json:"artifact"`
	Explanation string    `json:"explanation,omitempty"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
	// Similarity is set on search results only.
	Similarity float32 `json:"similarity,omitempty"`
}

func (e Exemplar) validate() error {
	if e.RunID == "" || e.Artifact == "" {
		return ErrInvalidExemplar
	}
	return nil
}

// Store persists exemplars and finds similar ones. The requirement text is embedded;
// the artifact travels as metadata.
type Store interface {
	Add(ctx context.Context, ex Exemplar) error
	Similar(ctx context.Context, requirement string, k int) ([]Exemplar, error)
	Count() int
	Close() error
}

// ValidateCollectionName accepts lowercase letters, digits and underscores.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

func toMetadata(ex Exemplar) map[string]string {
	created := ex.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return map[string]string{
		"run_id":      ex.RunID,
		"artifact":    ex.Artifact,
		"explanation": ex.Explanation,
		"score":       strconv.FormatFloat(ex.Score, 'f', -1, 64),
		"created_at":  created.Format(time.RFC3339),
	}
}

func fromMetadata(requirement string, md map[string]string, similarity float32) Exemplar {
	score, _ := strconv.ParseFloat(md["score"], 64)
	created, _ := time.Parse(time.RFC3339, md["created_at"])
	return Exemplar{
		RunID:       md["run_id"],
		Requirement: requirement,
		Artifact:    md["artifact"],
		Explanation: md["explanation"],
		Score:       score,
		CreatedAt:   created,
		Similarity:  similarity,
	}
}
