package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lsp "go.lsp.dev/protocol"
)

// View composes the header, the current pane, the status bar and help.
func (m Model) View() string {
	header := m.styles.header.Render(m.opts.Title)
	if m.notice != nil {
		style := m.styles.dim
		if m.notice.kind == lsp.MessageTypeError {
			style = m.styles.errorText
		}
		header += "  " + style.Render(truncate(m.notice.text, max(10, m.width-lipgloss.Width(header)-2)))
	}

	body := m.renderBody()
	if m.mode == modeContent {
		body = m.styles.section.Render(m.viewing) + "\n" + m.styles.box.Render(m.content.View())
	}

	parts := []string{header, body}
	if m.mode == modeUpload || m.mode == modeSave {
		parts = append(parts, m.styles.prompt.Width(m.width).Render(m.input.View()))
	}
	parts = append(parts,
		renderStatusBar(m.styles, m.status.State(), m.spinner.View(), m.width),
		m.help.View(m.keys),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderBody() string {
	switch m.phase {
	case phaseLoading:
		return m.spinner.View() + " Loading..."
	case phaseStarting:
		return m.spinner.View() + " Starting server..."
	case phaseNotStarted:
		return m.styles.dim.Render("The component server is not running. Press s to start it.")
	}

	var b strings.Builder
	b.WriteString(m.styles.section.Render("Actions") + "\n")
	b.WriteString(m.styles.item.Render(actionLabel(m.uploading, "Add Component", "Uploading...")) + "\n")
	b.WriteString(m.styles.item.Render(actionLabel(m.downloading, "Download Metadata Prompt", "Downloading...")) + "\n\n")

	if m.loadingList {
		b.WriteString(m.spinner.View() + " Loading components...")
		return b.String()
	}
	b.WriteString(m.styles.section.Render(fmt.Sprintf("Components (%d)", len(m.components))) + "\n")
	switch {
	case m.componentsErr != nil:
		b.WriteString(m.styles.errorText.Render("  Error fetching components"))
	case len(m.components) == 0:
		b.WriteString(m.styles.dim.Render("  No components found"))
	default:
		rows := make([]string, 0, len(m.components))
		for i, name := range m.components {
			if i == m.cursor {
				rows = append(rows, m.styles.selected.Render("› "+name))
			} else {
				rows = append(rows, m.styles.item.Render(name))
			}
		}
		b.WriteString(strings.Join(rows, "\n"))
	}
	return b.String()
}

func actionLabel(busy bool, idle, working string) string {
	if busy {
		return working
	}
	return "+ " + idle
}
