package orchestrator

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Delimiters of the generator response
const (
	ArtifactStartMarker = "<YAML>"
	ArtifactEndMarker   = "</YAML>"
	ExplanationLabel    = "Explanation:"
)

var (
	// ErrNoArtifact means the response has no marker pair
	ErrNoArtifact = errors.New("artifact markers not found")

	// ErrEmptyArtifact means the markers enclose only whitespace
	ErrEmptyArtifact = errors.New("artifact is empty")
)

// Extraction is the parsed generator response
type Extraction struct {
	Artifact    string
	Explanation string
}

// ExtractArtifact pulls the first marker-delimited artifact out of response.
// The explanation is the text after ExplanationLabel when present, otherwise whatever
// surrounds the artifact block.
func ExtractArtifact(response string) (Extraction, error) {
	start := strings.Index(response, ArtifactStartMarker)
	if start < 0 {
		return Extraction{}, ErrNoArtifact
	}
	bodyStart := start + len(ArtifactStartMarker)
	end := strings.Index(response[bodyStart:], ArtifactEndMarker)
	if end < 0 {
		return Extraction{}, ErrNoArtifact
	}
	end += bodyStart

	artifact := strings.TrimSpace(response[bodyStart:end])
	if artifact == "" {
		return Extraction{}, ErrEmptyArtifact
	}

	rest := response[end+len(ArtifactEndMarker):]
	var explanation string
	if i := strings.Index(rest, ExplanationLabel); i >= 0 {
		explanation = rest[i+len(ExplanationLabel):]
	} else if i := strings.Index(response[:start], ExplanationLabel); i >= 0 {
		explanation = response[i+len(ExplanationLabel) : start]
	} else {
		explanation = strings.TrimSpace(response[:start]) + "\n" + strings.TrimSpace(rest)
	}

	return Extraction{
		Artifact:    artifact,
		Explanation: strings.TrimSpace(explanation),
	}, nil
}

var scorePattern = regexp.MustCompile(`(?i)\bscore\s*[:=]\s*\**\s*(\d{1,3}(?:\.\d+)?)\b`)

// ParseScore reads the last "Score: NN" label from a critique.
// It returns false when no label is present or the value lies outside [0,100].
func ParseScore(critique string) (float64, bool) {
	matches := scorePattern.FindAllStringSubmatch(critique, -1)
	if len(matches) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
