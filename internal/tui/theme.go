package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	TextPrimary lipgloss.AdaptiveColor
	TextMuted   lipgloss.AdaptiveColor
	Accent      lipgloss.AdaptiveColor
	Error       lipgloss.AdaptiveColor
	Border      lipgloss.AdaptiveColor

	TopBar    lipgloss.Style
	Footer    lipgloss.Style
	InputBox  lipgloss.Style
	Pane      lipgloss.Style
	PaneTitle lipgloss.Style
	Notice    lipgloss.Style

	RoleYou    lipgloss.Style
	RoleAI     lipgloss.Style
	RoleRemote lipgloss.Style
	Timestamp  lipgloss.Style

	CardTitle lipgloss.Style
	CardMeta  lipgloss.Style
	DateLabel lipgloss.Style
}

func NewTheme() Theme {
	if os.Getenv("DINECHAT_NO_COLOR") == "1" {
		return noColorTheme()
	}

	text := lipgloss.AdaptiveColor{Light: "#1F2430", Dark: "#E6E6E6"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	accent := lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#F59E0B"}
	errc := lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	border := lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#374151"}

	return Theme{
		TextPrimary: text,
		TextMuted:   muted,
		Accent:      accent,
		Error:       errc,
		Border:      border,

		TopBar:    lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		Footer:    lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		InputBox:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
		Pane:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1),
		PaneTitle: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Notice:    lipgloss.NewStyle().Foreground(errc).Padding(0, 1),

		RoleYou:    lipgloss.NewStyle().Bold(true).Foreground(text),
		RoleAI:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		RoleRemote: lipgloss.NewStyle().Bold(true).Foreground(muted),
		Timestamp:  lipgloss.NewStyle().Foreground(muted),

		CardTitle: lipgloss.NewStyle().Bold(true).Foreground(text),
		CardMeta:  lipgloss.NewStyle().Foreground(muted),
		DateLabel: lipgloss.NewStyle().Bold(true).Foreground(accent),
	}
}

func noColorTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		TopBar:    plain,
		Footer:    plain,
		InputBox:  plain.Border(lipgloss.NormalBorder()),
		Pane:      plain.Border(lipgloss.NormalBorder()),
		PaneTitle: plain,
		Notice:    plain,

		RoleYou:    plain,
		RoleAI:     plain,
		RoleRemote: plain,
		Timestamp:  plain,

		CardTitle: plain,
		CardMeta:  plain,
		DateLabel: plain,
	}
}
