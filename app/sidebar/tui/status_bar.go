package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/vision2ui/panel"
)

var statusIcons = map[panel.Status]string{
	panel.StatusSuccess: "✓",
	panel.StatusWarning: "!",
	panel.StatusError:   "✗",
	panel.StatusInfo:    "i",
}

// renderStatusBar draws the panel status line. spin replaces the icon while
// loading. Hidden bars render as an empty line so the layout is stable.
func renderStatusBar(st styles, state panel.StatusState, spin string, width int) string {
	if !state.Visible {
		return st.fill.Render(strings.Repeat(" ", max(0, width)))
	}
	icon := statusIcons[state.Status]
	if state.Status == panel.StatusLoading {
		icon = spin
	}
	tone, ok := st.tones[state.Status]
	if !ok {
		tone = st.status
	}
	left := tone.Render(icon) + st.status.Render(truncate(state.Text, max(1, width-12)))
	right := ""
	if state.Action != nil {
		right = st.status.Render(fmt.Sprintf("[%s] %s", state.Action.Key, state.Action.Label))
	}
	padding := width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}
	return left + st.fill.Render(strings.Repeat(" ", padding)) + right
}

func truncate(s string, n int) string {
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
