package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/protocol"
)

var (
	colorPrimary   = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	colorSecondary = lipgloss.AdaptiveColor{Light: "30", Dark: "86"}
	colorSuccess   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	colorWarning   = lipgloss.AdaptiveColor{Light: "130", Dark: "220"}
	colorError     = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorInfo      = lipgloss.AdaptiveColor{Light: "24", Dark: "75"}
	colorDim       = lipgloss.AdaptiveColor{Light: "245", Dark: "241"}
)

// styles is the palette for one theme. Panels follow the host's theme
// rather than the terminal's, so colours are resolved per theme.
type styles struct {
	header    lipgloss.Style
	section   lipgloss.Style
	item      lipgloss.Style
	selected  lipgloss.Style
	dim       lipgloss.Style
	errorText lipgloss.Style
	box       lipgloss.Style
	status    lipgloss.Style
	fill      lipgloss.Style
	prompt    lipgloss.Style
	tones     map[panel.Status]lipgloss.Style
}

func pick(c lipgloss.AdaptiveColor, theme protocol.Theme) lipgloss.Color {
	if theme == protocol.ThemeLight {
		return lipgloss.Color(c.Light)
	}
	return lipgloss.Color(c.Dark)
}

func newStyles(theme protocol.Theme) styles {
	bar := lipgloss.Color("235")
	barText := lipgloss.Color("255")
	if theme == protocol.ThemeLight {
		bar = lipgloss.Color("254")
		barText = lipgloss.Color("235")
	}
	tone := func(c lipgloss.AdaptiveColor) lipgloss.Style {
		return lipgloss.NewStyle().Background(bar).Foreground(pick(c, theme)).Bold(true).Padding(0, 1)
	}
	return styles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(pick(colorPrimary, theme)),
		section:   lipgloss.NewStyle().Bold(true).Foreground(pick(colorSecondary, theme)),
		item:      lipgloss.NewStyle().PaddingLeft(2),
		selected:  lipgloss.NewStyle().PaddingLeft(1).Bold(true).Foreground(pick(colorPrimary, theme)),
		dim:       lipgloss.NewStyle().Foreground(pick(colorDim, theme)),
		errorText: lipgloss.NewStyle().Foreground(pick(colorError, theme)),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(pick(colorDim, theme)).
			Padding(0, 1),
		status: lipgloss.NewStyle().Background(bar).Foreground(barText).Padding(0, 1),
		fill:   lipgloss.NewStyle().Background(bar),
		prompt: lipgloss.NewStyle().Background(lipgloss.Color("237")).Padding(0, 1),
		tones: map[panel.Status]lipgloss.Style{
			panel.StatusLoading: tone(colorInfo),
			panel.StatusInfo:    tone(colorInfo),
			panel.StatusSuccess: tone(colorSuccess),
			panel.StatusWarning: tone(colorWarning),
			panel.StatusError:   tone(colorError),
		},
	}
}
