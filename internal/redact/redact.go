// Package redact scrubs credentials from requirement text, prompts and published designs
// using the gitleaks rule set.
package redact

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

var (
	// ErrInvalidTOML is returned when an allowlist file cannot be parsed.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")
	// ErrInvalidRegex is returned when an allowlist pattern does not compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Finding describes one redacted secret. The secret itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the scrubbed text plus what was removed.
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// Rules returns the distinct rule IDs that matched, sorted.
func (r Result) Rules() []string {
	seen := make(map[string]struct{}, len(r.Findings))
	var ids []string
	for _, f := range r.Findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}

// Scrubber replaces detected secrets with [REDACTED:<rule-id>] markers.
// A nil or disabled Scrubber returns text unchanged.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a scrubber from cfg. The gitleaks default config is loaded once.
func New(cfg config.RedactionConfig) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var allow *Allowlist
	if cfg.AllowlistPath != "" {
		a, err := LoadAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		allow = a
	}
	return NewWithAllowlist(allow)
}

// NewWithAllowlist builds an enabled scrubber. allow may be nil.
func NewWithAllowlist(allow *Allowlist) (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if allow != nil {
		if err := applyAllowlist(&detector.Config, allow); err != nil {
			return nil, err
		}
	}
	return &Scrubber{detector: detector}, nil
}

// Enabled reports whether Scrub does anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.detector != nil
}

// Scrub returns text with every detected secret replaced.
func (s *Scrubber) Scrub(text string) Result {
	if !s.Enabled() || strings.TrimSpace(text) == "" {
		return Result{Text: text}
	}

	s.mu.Lock()
	found := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(found) == 0 {
		return Result{Text: text}
	}

	// Longest secrets first so a secret that contains another is replaced whole.
	sort.SliceStable(found, func(i, j int) bool {
		return len(found[i].Secret) > len(found[j].Secret)
	})

	out := text
	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		out = strings.ReplaceAll(out, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return Result{Text: out, Findings: findings}
}

// ScrubAll scrubs each string and returns the texts plus all findings.
func (s *Scrubber) ScrubAll(texts ...string) ([]string, []Finding) {
	out := make([]string, len(texts))
	var findings []Finding
	for i, t := range texts {
		r := s.Scrub(t)
		out[i] = r.Text
		findings = append(findings, r.Findings...)
	}
	return out, findings
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "archagent allowlist"}
	for _, pattern := range allow.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allow.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allow.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
