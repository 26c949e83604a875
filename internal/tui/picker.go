package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNoSelection is returned when the picker is closed without choosing.
var ErrNoSelection = errors.New("no requirement selected")

// Choice is one entry of the picker.
type Choice struct {
	Title  string
	Detail string
}

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
)

// Picker lets the user choose one of a few canned requirements.
type Picker struct {
	choices  []Choice
	cursor   int
	selected int
	quitting bool
}

// NewPicker creates a picker over choices.
func NewPicker(choices []Choice) Picker {
	return Picker{choices: choices, selected: -1}
}

// Selected returns the chosen index, or -1.
func (p Picker) Selected() int { return p.selected }

// Init implements tea.Model
func (p Picker) Init() tea.Cmd { return nil }

// Update handles navigation keys
func (p Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return p, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		p.quitting = true
		return p, tea.Quit
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down", "j":
		if p.cursor < len(p.choices)-1 {
			p.cursor++
		}
	case "enter", " ":
		if len(p.choices) > 0 {
			p.selected = p.cursor
			p.quitting = true
			return p, tea.Quit
		}
	}
	return p, nil
}

// View renders the list
func (p Picker) View() string {
	if p.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(" archagent ") + "  " + valueStyle.Render("Pick a sample requirement") + "\n\n")
	for i, c := range p.choices {
		if i == p.cursor {
			b.WriteString(cursorStyle.Render("▸ ") + selectedStyle.Render(c.Title) + "\n")
			b.WriteString(dimStyle.Render(Indent(c.Detail, "    ")) + "\n")
			continue
		}
		b.WriteString("  " + labelStyle.Render(c.Title) + "\n")
	}
	b.WriteString("\n" + footerKeyStyle.Render("[↑/↓]") + footerStyle.Render(" move  ") +
		footerKeyStyle.Render("[enter]") + footerStyle.Render(" select  ") +
		footerKeyStyle.Render("[q]") + footerStyle.Render(" quit"))
	return containerStyle.Render(b.String())
}

// Pick shows the picker and returns the chosen index.
func Pick(ctx context.Context, choices []Choice, opts ...tea.ProgramOption) (int, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(NewPicker(choices), opts...).Run()
	if err != nil {
		return -1, fmt.Errorf("running picker: %w", err)
	}
	p, ok := final.(Picker)
	if !ok || p.selected < 0 {
		return -1, ErrNoSelection
	}
	return p.selected, nil
}
