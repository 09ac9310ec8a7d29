package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/justchokingaround/ciphertv/internal/player"
)

// Oxocarbon color scheme - IBM Carbon inspired
// Following base16 oxocarbon-dark palette
var (
	// Base colors
	OxocarbonBase00 = lipgloss.Color("#262626") // UI elements (lighter than bg)
	OxocarbonBase01 = lipgloss.Color("#393939") // Borders, secondary UI
	OxocarbonBase02 = lipgloss.Color("#525252") // Disabled/muted elements
	OxocarbonBase03 = lipgloss.Color("#767676") // Disabled/muted elements
	OxocarbonBase04 = lipgloss.Color("#dde1e6") // Secondary foreground
	OxocarbonBase05 = lipgloss.Color("#f2f4f8") // Primary foreground
	OxocarbonWhite  = lipgloss.Color("#ffffff")

	// Accent colors
	OxocarbonTeal   = lipgloss.Color("#3ddbd9")
	OxocarbonBlue   = lipgloss.Color("#78a9ff")
	OxocarbonPink   = lipgloss.Color("#ee5396")
	OxocarbonRed    = lipgloss.Color("#ff5252")
	OxocarbonCyan   = lipgloss.Color("#33b1ff")
	OxocarbonGreen  = lipgloss.Color("#42be65")
	OxocarbonPurple = lipgloss.Color("#be95ff") // main accent
	OxocarbonMauve  = lipgloss.Color("#d1aaff")
)

var (
	// Title style
	TitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonWhite).
			Background(OxocarbonPurple).
			Padding(0, 1).
			Bold(true)

	// Subtitle style
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonMauve).
			Bold(true)

	// Help style
	HelpStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase03).
			Italic(true)

	// List styles
	NormalItemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(OxocarbonBase05)

	SelectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(OxocarbonPurple).
				Bold(true)

	ActiveItemStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(OxocarbonGreen).
			Bold(true)

	MetadataStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase04)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(OxocarbonPurple).
			Bold(true).
			Underline(true).
			MarginBottom(1).
			MarginTop(1)

	// Quality pills
	BadgeStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase05).
			Background(OxocarbonBase01).
			Padding(0, 1).
			MarginRight(1)

	BadgeSelectedStyle = lipgloss.NewStyle().
				Foreground(OxocarbonPurple).
				Background(OxocarbonBase01).
				Padding(0, 1).
				MarginRight(1).
				Bold(true)

	StateBadgeStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(OxocarbonRed).
			Bold(true)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(OxocarbonCyan).
			Italic(true)

	// Footer style for status messages
	FooterStyle = lipgloss.NewStyle().
			Foreground(OxocarbonBase05).
			Background(OxocarbonBase01).
			Padding(0, 1)

	// Popup style
	PopupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(OxocarbonPurple).
			Padding(0, 2)
)

// StateColor returns the badge color of a playback state
func StateColor(state player.State) lipgloss.Color {
	switch state {
	case player.StatePlaying:
		return OxocarbonGreen
	case player.StatePaused:
		return OxocarbonBlue
	case player.StateLoading:
		return OxocarbonTeal
	case player.StateFailed:
		return OxocarbonRed
	default:
		return OxocarbonBase03
	}
}

// FormatStateBadge renders a colored state badge
func FormatStateBadge(state player.State) string {
	return StateBadgeStyle.Foreground(StateColor(state)).Render(string(state))
}
