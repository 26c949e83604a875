package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/archagent/internal/orchestrator"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	critiqueLines   = 8
)

// Model is the bubbletea model for a single refinement run.
type Model struct {
	runID       string
	requirement string
	maxCycles   int
	events      <-chan orchestrator.Event
	cancel      context.CancelFunc
	started     time.Time
	quitting    bool

	spinner  spinner.Model
	progress progress.Model

	stage       orchestrator.Stage
	cycle       int
	fraction    float64
	scores      []float64
	critique    string
	artifact    string
	explanation string
	feedback    *orchestrator.RenderFeedback
	outcome     *orchestrator.Outcome
	failure     *orchestrator.ErrorInfo
	finishedAt  time.Time
}

// Lipgloss styles, shared with the rest of the CLI's terminal output
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))

	yamlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("238")).
			PaddingLeft(1)
)

// NewModel creates a model that renders events until the terminal one arrives.
// cancel is called when the user quits before the run finishes; it may be nil.
func NewModel(runID, requirement string, maxCycles int, events <-chan orchestrator.Event, cancel context.CancelFunc) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return Model{
		runID:       runID,
		requirement: requirement,
		maxCycles:   maxCycles,
		events:      events,
		cancel:      cancel,
		started:     time.Now(),
		stage:       orchestrator.StageStart,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(sparklineStyle)),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		scores: make([]float64, 0, historySize),
	}
}

// Outcome returns the final outcome once the run has finished.
func (m Model) Outcome() *orchestrator.Outcome { return m.outcome }

// Failure returns the error of a failed run.
func (m Model) Failure() *orchestrator.ErrorInfo { return m.failure }

// Done reports whether the terminal event has been received.
func (m Model) Done() bool { return m.outcome != nil || m.failure != nil }

// Message types
type eventMsg orchestrator.Event
type streamClosedMsg struct{}

// waitForEvent reads one event from the run's stream.
func waitForEvent(events <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init starts the spinner and the event reader
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.Done() {
				m.cancel()
			}
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.Done() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(orchestrator.Event(msg))
		if m.Done() {
			m.finishedAt = time.Now()
			return m, nil
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		if !m.Done() {
			m.failure = &orchestrator.ErrorInfo{
				Kind:    orchestrator.KindUnexpectedState,
				Stage:   m.stage,
				Message: "event stream closed before the run finished",
			}
			m.finishedAt = time.Now()
		}
		return m, nil
	}

	return m, nil
}

// apply folds one event into the view state.
func (m *Model) apply(ev orchestrator.Event) {
	if ev.RunID != "" {
		m.runID = ev.RunID
	}
	m.stage = ev.Stage
	m.cycle = ev.Cycle
	m.fraction = ev.Progress

	switch ev.Type {
	case orchestrator.EventStage:
		switch ev.Stage {
		case orchestrator.StageGenerate:
			m.artifact = ev.Artifact
			m.explanation = ev.Explanation
			m.feedback = nil
		case orchestrator.StageRender:
			m.feedback = ev.RenderFeedback
		case orchestrator.StageValidate:
			m.critique = ev.ValidationResult
			if ev.Score != nil {
				m.scores = appendToHistory(m.scores, *ev.Score)
			}
		}
	case orchestrator.EventFinished:
		m.fraction = 1.0
		m.outcome = ev.Outcome
		if m.outcome == nil {
			m.outcome = &orchestrator.Outcome{}
		}
		if m.outcome.Artifact != "" {
			m.artifact = m.outcome.Artifact
		}
		if m.outcome.Explanation != "" {
			m.explanation = m.outcome.Explanation
		}
	case orchestrator.EventError:
		m.fraction = 1.0
		m.failure = ev.Error
		if m.failure == nil {
			m.failure = &orchestrator.ErrorInfo{Kind: orchestrator.KindUnexpectedState, Stage: ev.Stage}
		}
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from the score history
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no scores yet"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// scoreBadge colours a score against the acceptance threshold.
func scoreBadge(score float64, accepted bool) string {
	switch {
	case accepted:
		return healthyStyle.Render("[✓]")
	case score >= 70:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// View renders the run
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	elapsed := time.Since(m.started)
	if !m.finishedAt.IsZero() {
		elapsed = m.finishedAt.Sub(m.started)
	}
	b.WriteString(headerStyle.Render(" archagent ") + "  " + m.statusLine() + "   " +
		dimStyle.Render(FormatElapsed(elapsed)) + "\n")
	b.WriteString(labelStyle.Render("Run: ") + dimStyle.Render(m.runID) + "\n")
	b.WriteString(labelStyle.Render("Requirement: ") + valueStyle.Render(Truncate(m.requirement, 72)) + "\n")

	// Progress
	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	b.WriteString(labelStyle.Render("  Cycle: ") + valueStyle.Render(FormatCycle(m.cycle, m.maxCycles)) +
		"   " + labelStyle.Render("Stage: ") + valueStyle.Render(StageLabel(m.stage)) + "\n")
	b.WriteString("  " + m.progress.ViewAs(m.fraction) + " " +
		dimStyle.Render(FormatPercentage(m.fraction)) + "\n")

	// Score
	b.WriteString("\n" + sectionStyle.Render("┃ Score") + "\n")
	latest := 0.0
	if n := len(m.scores); n > 0 {
		latest = m.scores[n-1]
	}
	accepted := m.outcome != nil && m.outcome.Accepted
	b.WriteString(labelStyle.Render("  Latest: ") + valueStyle.Render(fmt.Sprintf("%.0f", latest)) +
		" " + scoreBadge(latest, accepted) + "   " + createSparkline(m.scores) + "\n")

	if m.feedback != nil && !m.feedback.Empty() {
		b.WriteString(labelStyle.Render("  Render: ") + dimStyle.Render(fmt.Sprintf("%d warning(s), %d error(s)",
			len(m.feedback.Warnings), len(m.feedback.Errors))) + "\n")
	}

	if m.critique != "" {
		b.WriteString("\n" + sectionStyle.Render("┃ Critique") + "\n")
		b.WriteString(dimStyle.Render(Indent(HeadLines(m.critique, critiqueLines), "  ")) + "\n")
	}

	if m.failure != nil {
		b.WriteString("\n" + errorStyle.Render(fmt.Sprintf("✗ %s at %s", m.failure.Kind, m.failure.Stage)) + "\n")
		if m.failure.Message != "" {
			b.WriteString(dimStyle.Render("  "+m.failure.Message) + "\n")
		}
	}

	if m.Done() && m.artifact != "" {
		b.WriteString("\n" + sectionStyle.Render("┃ Design") + "\n")
		b.WriteString(yamlStyle.Render(m.artifact) + "\n")
		if m.explanation != "" {
			b.WriteString(dimStyle.Render(Indent(HeadLines(m.explanation, critiqueLines), "  ")) + "\n")
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
	if !m.Done() {
		footer = footerKeyStyle.Render("[q]") + footerStyle.Render(" cancel run")
	}
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func (m Model) statusLine() string {
	switch {
	case m.failure != nil:
		return errorStyle.Render("✗ FAILED")
	case m.outcome != nil && m.outcome.Accepted:
		return healthyStyle.Render(fmt.Sprintf("✓ ACCEPTED (%.0f)", m.outcome.Score))
	case m.outcome != nil:
		return warningStyle.Render(fmt.Sprintf("⚠ NOT ACCEPTED: %s (%.0f)", m.outcome.Reason, m.outcome.Score))
	default:
		return m.spinner.View() + " " + valueStyle.Render(StageLabel(m.stage))
	}
}

// Run shows the model until the user quits or ctx ends and returns the final model.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	if err != nil {
		return m, fmt.Errorf("running terminal UI: %w", err)
	}
	return m, nil
}
