package redact

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds patterns that are never treated as secrets.
//
//	[allowlist]
//	regexes = ['''EXAMPLE[A-Z0-9]+''']
//	stopwords = ["placeholder"]
type Allowlist struct {
	Paths     []string `toml:"paths"`
	Regexes   []string `toml:"regexes"`
	StopWords []string `toml:"stopwords"`
}

// LoadAllowlist parses a gitleaks-style TOML allowlist and validates its patterns.
func LoadAllowlist(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist Allowlist `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range append(append([]string{}, doc.Allowlist.Paths...), doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &doc.Allowlist, nil
}
