package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0%", FormatPercentage(0))
	assert.Equal(t, "33%", FormatPercentage(0.33))
	assert.Equal(t, "100%", FormatPercentage(1))
}

func TestFormatCycle(t *testing.T) {
	assert.Equal(t, "2/5", FormatCycle(2, 5))
	assert.Equal(t, "2", FormatCycle(2, 0))
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{61 * time.Minute, "1h 1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.in))
	}
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "generating design", StageLabel(orchestrator.StageGenerate))
	assert.Equal(t, "rendering diagram", StageLabel(orchestrator.StageRender))
	assert.Equal(t, "finished", StageLabel(orchestrator.StageFinish))
	assert.Equal(t, "custom", StageLabel(orchestrator.Stage("custom")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b c", Truncate("a\n  b\tc", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "abcdefgh", Truncate("abcdefgh", 0))
}

func TestHeadLines(t *testing.T) {
	assert.Equal(t, "one\ntwo", HeadLines("one\n\ntwo\n", 5))
	assert.Equal(t, "one\n…", HeadLines("one\ntwo\nthree", 1))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b", Indent("a\nb", "  "))
	assert.Equal(t, "", Indent("", "  "))
}
