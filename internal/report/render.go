package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// WriteText renders the report for an operator. Colors are only emitted when
// w is a terminal.
func WriteText(w io.Writer, r *RunReport) error {
	st := newStyles(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", st.header.Render(fmt.Sprintf("Run %s against %s (%s)", r.RunID, r.Endpoint, r.EndpointKind)))

	if r.Status == StatusAborted {
		fmt.Fprintf(&b, "%s %s\n", st.failure.Render("✗ Aborted before any statement was applied:"), r.Error)
		_, err := io.WriteString(w, b.String())
		return err
	}

	for _, res := range r.Results {
		mark := st.success.Render("✓")
		if res.Status == Failed {
			mark = st.failure.Render("✗")
			if res.Optional {
				mark = st.warning.Render("!")
			}
		}
		fmt.Fprintf(&b, "%s [%d/%d] %s\n", mark, res.Index, r.Total, res.Statement)
		if res.Status == Failed {
			fmt.Fprintf(&b, "    %s\n", st.muted.Render(res.Reason))
		}
	}

	if len(r.Checks) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.header.Render("Verification"))
		for _, c := range r.Checks {
			if c.Passed {
				fmt.Fprintf(&b, "%s %s\n", st.success.Render("✓"), c.Name)
				continue
			}
			detail := fmt.Sprintf("expected %q, got %q", c.Expected, c.Actual)
			if c.Error != "" {
				detail = c.Error
			}
			fmt.Fprintf(&b, "%s %s: %s\n", st.failure.Render("✗"), c.Name, detail)
		}
	}

	fmt.Fprintln(&b)
	summary := fmt.Sprintf("%d/%d statements succeeded", r.Succeeded(), len(r.Results))
	if r.Total == 0 {
		summary = fmt.Sprintf("%d/%d checks passed", len(r.Checks)-len(r.FailedChecks), len(r.Checks))
	}
	switch r.Status {
	case StatusSuccess:
		fmt.Fprintf(&b, "%s %s\n", st.success.Render("✓ Success:"), summary)
	default:
		fmt.Fprintf(&b, "%s %s\n", st.failure.Render("✗ Partial failure:"), summary)
		if r.Cancelled {
			fmt.Fprintf(&b, "  run cancelled: %d statement(s) not attempted\n", r.NotAttempted())
		}
		if len(r.FailedStatements) > 0 {
			fmt.Fprintf(&b, "  failed statements: %s\n", joinInts(r.FailedStatements))
			fmt.Fprintf(&b, "  re-run them with: --only %s\n", strings.ReplaceAll(joinInts(r.FailedStatements), " ", ""))
		}
		if len(r.FailedChecks) > 0 {
			fmt.Fprintf(&b, "  failed checks: %s\n", strings.Join(r.FailedChecks, ", "))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, r *RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
