package redact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

const leakyRequirement = `Build an API that calls OpenAI.
const apiKey = "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
It should sit behind CloudFront.`

func TestScrubber_CleanText(t *testing.T) {
	s, err := NewWithAllowlist(nil)
	require.NoError(t, err)

	r := s.Scrub("A highly available web application with an ALB and two EC2 instances")
	assert.False(t, r.Redacted())
	assert.Equal(t, "A highly available web application with an ALB and two EC2 instances", r.Text)
}

func TestScrubber_RedactsSecret(t *testing.T) {
	s, err := NewWithAllowlist(nil)
	require.NoError(t, err)

	r := s.Scrub(leakyRequirement)
	require.True(t, r.Redacted())
	assert.NotContains(t, r.Text, "abc123def456ghi789jkl012mno345pqr678stu901xyz")
	assert.Contains(t, r.Text, "[REDACTED:")
	assert.Contains(t, r.Text, "It should sit behind CloudFront.")
	assert.NotEmpty(t, r.Rules())
}

func TestScrubber_Allowlist(t *testing.T) {
	s, err := NewWithAllowlist(&Allowlist{Regexes: []string{`abc123def456`}})
	require.NoError(t, err)

	r := s.Scrub(leakyRequirement)
	assert.False(t, r.Redacted())
	assert.Equal(t, leakyRequirement, r.Text)
}

func TestScrubber_NilAndDisabled(t *testing.T) {
	var s *Scrubber
	assert.False(t, s.Enabled())
	assert.Equal(t, leakyRequirement, s.Scrub(leakyRequirement).Text)

	disabled, err := New(config.RedactionConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, disabled)
	assert.Equal(t, leakyRequirement, disabled.Scrub(leakyRequirement).Text)
}

func TestScrubber_ScrubAll(t *testing.T) {
	s, err := NewWithAllowlist(nil)
	require.NoError(t, err)

	texts, findings := s.ScrubAll("plain", leakyRequirement)
	assert.Equal(t, "plain", texts[0])
	assert.True(t, strings.Contains(texts[1], "[REDACTED:"))
	assert.NotEmpty(t, findings)
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "allow.toml")
	require.NoError(t, os.WriteFile(good, []byte("[allowlist]\nregexes = ['''abc123def456''']\nstopwords = [\"placeholder\"]\n"), 0600))
	a, err := LoadAllowlist(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123def456"}, a.Regexes)
	assert.Equal(t, []string{"placeholder"}, a.StopWords)

	s, err := New(config.RedactionConfig{Enabled: true, AllowlistPath: good})
	require.NoError(t, err)
	assert.False(t, s.Scrub(leakyRequirement).Redacted())

	badRegex := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badRegex, []byte("[allowlist]\nregexes = ['''([''']\n"), 0600))
	_, err = LoadAllowlist(badRegex)
	assert.ErrorIs(t, err, ErrInvalidRegex)

	badTOML := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(badTOML, []byte("[allowlist\n"), 0600))
	_, err = LoadAllowlist(badTOML)
	assert.ErrorIs(t, err, ErrInvalidTOML)

	_, err = LoadAllowlist(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, ErrInvalidTOML)
}
