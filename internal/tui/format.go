package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}

// FormatCycle formats the current cycle against the budget, e.g. "2/5".
// A zero budget prints the cycle alone.
func FormatCycle(cycle, maxCycles int) string {
	if maxCycles <= 0 {
		return fmt.Sprintf("%d", cycle)
	}
	return fmt.Sprintf("%d/%d", cycle, maxCycles)
}

// FormatElapsed formats a duration as "Xm Ys" or "X.Xs"
func FormatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)
	if minutes >= 60 {
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// StageLabel returns the display name of a stage.
func StageLabel(stage orchestrator.Stage) string {
	switch stage {
	case orchestrator.StageStart:
		return "starting"
	case orchestrator.StageGenerate:
		return "generating design"
	case orchestrator.StageRender:
		return "rendering diagram"
	case orchestrator.StageValidate:
		return "validating"
	case orchestrator.StageFinish:
		return "finished"
	default:
		return string(stage)
	}
}

// Truncate shortens s to max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// HeadLines keeps the first n non-blank lines of s.
func HeadLines(s string, n int) string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(out) == n {
			out = append(out, "…")
			break
		}
		out = append(out, strings.TrimRight(line, " \t\r"))
	}
	return strings.Join(out, "\n")
}

// Indent prefixes every line of s.
func Indent(s, prefix string) string {
	if s == "" {
		return s
	}
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
