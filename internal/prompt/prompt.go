// Package prompt asks the operator to confirm a risky apply by typing the
// target environment's name.
package prompt

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorError   = lipgloss.Color("196") // Red
	colorWarning = lipgloss.Color("214") // Orange
	colorMuted   = lipgloss.Color("240") // Gray

	headerStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	helpStyle    = lipgloss.NewStyle().Foreground(colorMuted)
)

// ConfirmModel is the Bubble Tea model behind Confirm.
type ConfirmModel struct {
	title    string
	details  []string
	expected string

	input     textinput.Model
	mismatch  bool
	confirmed bool
	done      bool
}

// NewConfirm builds a prompt that is satisfied only when the operator types
// expected exactly.
func NewConfirm(title string, details []string, expected string) ConfirmModel {
	input := textinput.New()
	input.Placeholder = expected
	input.CharLimit = 128
	input.Focus()

	return ConfirmModel{
		title:    title,
		details:  details,
		expected: expected,
		input:    input,
	}
}

// Init starts the cursor blinking (Bubble Tea Init).
func (m ConfirmModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles key presses (Bubble Tea Update).
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == m.expected {
				m.confirmed = true
				m.done = true
				return m, tea.Quit
			}
			m.mismatch = true
			m.input.SetValue("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the prompt (Bubble Tea View).
func (m ConfirmModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n\n")
	for _, d := range m.details {
		b.WriteString(warningStyle.Render("  " + d))
		b.WriteString("\n")
	}
	if len(m.details) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Type %s to continue:\n", headerStyle.Render(m.expected))
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.mismatch {
		b.WriteString(errorStyle.Render("That does not match."))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter: confirm • esc: cancel"))
	b.WriteString("\n")
	return b.String()
}

// Confirmed reports whether the operator confirmed.
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed
}

// Confirm runs the prompt on in/out and reports whether the operator typed
// expected.
func Confirm(in io.Reader, out io.Writer, title string, details []string, expected string) (bool, error) {
	p := tea.NewProgram(NewConfirm(title, details, expected), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	m, ok := final.(ConfirmModel)
	if !ok {
		return false, fmt.Errorf("confirmation prompt returned %T", final)
	}
	return m.Confirmed(), nil
}
